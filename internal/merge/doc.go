// Package merge reconciles freshly observed listing candidates into the
// durable listing store.
//
// Every merge is a read-modify-write on a single listing identity:
//   - absent identity: the candidate is inserted as a new listing
//   - known-price to different known-price: the old price moves to the
//     listing's price history and a PriceChange row is appended
//   - anything else: fields the candidate supplies overwrite stored ones,
//     fields it omits are kept
//
// Merges on one identity are serialized in-process by a keyed lock and
// across processes by the store (row lock plus an optimistic version
// check). The listing write and its price change are committed in one
// transaction.
package merge
