// Package master hosts the canonical copy of every resource and orders
// the actions clients send for it.
//
// Each resource gets a lane: a FIFO request queue drained by one goroutine.
// A lane commits its requests one at a time in arrival order and fans each
// result out to every subscriber before taking the next request, so all
// subscribers observe the same commit order. Lanes of different resources
// run concurrently and never share a lock on the commit path.
//
// Thread-safety model:
//   - Every exported method is safe from any goroutine.
//   - Dispatch and Flush only enqueue; they never wait for a commit.
//   - Subscribe holds the lane lock, so the snapshot it delivers and the
//     broadcasts that follow form one gapless sequence.
package master
