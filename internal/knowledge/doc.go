// Package knowledge defines the domain model of the ingestion pipeline:
// knowledge bases, documents with their processing state machine, and the
// store interface that persists them.
//
// A Document moves strictly forward through
//
//	pending → extracting → embedding → processed
//
// with failed reachable from extracting or embedding. The only regression is
// an explicit reprocess request, which resets a processed or failed document
// to pending. Transitions are guarded at the store level with compare-and-set
// updates so that two orchestrator runs can never claim the same document.
package knowledge
