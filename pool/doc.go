// Package pool
// Author: momentics <momentics@gmail.com>
//
// Reusable receive buffers for probe workers. Bulk reads allocate one
// buffer per connection; pooling them keeps the heap flat when many hosts
// are probed back to back.
package pool
