// Package merger owns the clash documents on disk and derives the runtime
// config the proxy daemon is started with.
//
// Three documents are involved:
//
//   - the raw config, downloaded from a subscription and replaced wholesale
//     on every sync (one previous generation is kept as a .bak file);
//   - the mixin, owned by the user and changed only through partial
//     updates (UpdateMixin);
//   - the runtime config, DeepMergeRuntime(raw, mixin), rebuilt by Merge.
//
// Updating the mixin and rebuilding the runtime config are separate steps:
// callers run UpdateMixin, then Merge, then restart the service.
//
// Every ApplySubscription call appends a line to the update log. Writing
// the log is best-effort and never changes the result of the call.
package merger
