// Package audiocache stores downloaded audio so the playback bot can skip
// redundant downloads.
//
// Each cached file is keyed by a fingerprint of its source URL and described
// by a record in metadata.json, which lives next to the payloads. The index
// says what is cached; the filesystem says whether the bytes still exist. A
// lookup only hits when both agree, and index records whose payload has gone
// missing are dropped on the next lookup.
//
// # Size Management
//
// EvictToBudget removes least recently used entries until the total recorded
// size fits the budget. Payloads that cannot be deleted (for example a file
// held open by active playback) are skipped and the sweep moves on. ClearAll
// ignores the budget and removes every payload. Neither operation fails
// because of a single file; per-file problems are logged.
//
// Every index mutation rewrites metadata.json in full. A failed write is
// logged and the in-memory index stays authoritative until a later write
// succeeds.
package audiocache
