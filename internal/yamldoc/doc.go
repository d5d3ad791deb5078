// Package yamldoc holds clash configuration documents as typed values.
//
// A document is a *Mapping of Values. Value is a tagged union of null,
// bool, number, string, sequence and mapping, so merge and validation code
// never has to inspect interface{} trees.
//
// Two merge rules are provided:
//
//   - DeepMergeOverlay: partial updates of the user's mixin. Overlay values
//     replace base values except where both sides are mappings.
//   - DeepMergeRuntime: building the runtime config. Like the overlay rule,
//     but two sequences are concatenated with the mixin entries first.
//
// Load and Save read and persist documents; Load treats a missing file as
// an empty document and Save replaces files atomically.
package yamldoc
