// Package chat is a sample resource type: a chat room with participants
// and an append-only message list. It exercises every part of the sync
// engine and backs the end-to-end scenarios.
package chat
