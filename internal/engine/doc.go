// Package engine serializes cart mutations for one point-of-sale
// session and keeps the local session consistent with the sale server.
//
// # Architecture
//
// The engine owns a single Session and a FIFO mutation queue. Public
// methods (AddProduct, UpdateQuantity, RemoveProduct, ...) enqueue a
// mutation and block until the Run loop has applied it, so callers get
// synchronous results while the engine guarantees that no two
// mutations ever interleave their server calls. Run is started once,
// usually on its own goroutine:
//
//	eng := engine.New(svc, engine.WithJournal(j))
//	go eng.Run(ctx)
//	res, err := eng.AddProduct(ctx, product)
//
// # Critical patterns
//
// Server-echoed state wins. After every accepted mutation the engine
// reloads or applies the server's view of the sale; it never computes
// totals or line ids locally. The session is a cache of the server's
// answer plus purely local fields (discount display, client choice).
//
// Conflict is success. When the server reports that a product line
// already exists, the mutation resolves with OutcomeAlreadyExists and
// the session is left exactly as it was. Nothing is retried.
//
// One failure, one report. A failed server call surfaces its error to
// the caller and leaves the session untouched. The engine never
// retries on the caller's behalf; the operator decides what happens
// next.
//
// Every applied mutation is journaled (when a journal is configured)
// with a content-addressed op id and a canonical session snapshot, so
// a crashed session can be rehydrated and verified against the server.
package engine
