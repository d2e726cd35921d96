// Package client runs fire-and-forget request/response exchanges against
// many hosts at once. Each Add spawns one worker that connects, sends a
// request and drains the reply with RecvToEnd; results are picked up later
// by handle without blocking.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package client
