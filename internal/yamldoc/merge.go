package yamldoc

// DeepMergeOverlay applies a partial update to base. Nested mappings are
// merged key by key; any other value in overlay, including sequences and
// values of a different kind, replaces the one in base. Keys that exist
// only in base are kept. Neither argument is modified.
func DeepMergeOverlay(base, overlay *Mapping) *Mapping {
	return deepMerge(base, overlay, false)
}

// DeepMergeRuntime combines a subscription config with the user's mixin.
// It follows DeepMergeOverlay except that when both sides hold a sequence
// the mixin entries are placed in front of the raw ones, so rules from the
// mixin are evaluated first. Neither argument is modified.
func DeepMergeRuntime(raw, mixin *Mapping) *Mapping {
	return deepMerge(raw, mixin, true)
}

func deepMerge(base, overlay *Mapping, prependSeq bool) *Mapping {
	out := base.Clone()
	for _, key := range overlay.Keys() {
		ov, _ := overlay.Get(key)
		bv, exists := out.Get(key)
		if !exists {
			out.Set(key, ov.Clone())
			continue
		}
		switch {
		case bv.Kind() == KindMapping && ov.Kind() == KindMapping:
			bm, _ := bv.AsMapping()
			om, _ := ov.AsMapping()
			out.Set(key, Map(deepMerge(bm, om, prependSeq)))
		case prependSeq && bv.Kind() == KindSequence && ov.Kind() == KindSequence:
			bs, _ := bv.AsSeq()
			ms, _ := ov.AsSeq()
			items := make([]Value, 0, len(ms)+len(bs))
			for _, item := range ms {
				items = append(items, item.Clone())
			}
			// bv already belongs to out, which is a fresh clone.
			items = append(items, bs...)
			out.Set(key, Value{kind: KindSequence, seq: items})
		default:
			out.Set(key, ov.Clone())
		}
	}
	return out
}
