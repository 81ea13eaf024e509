package recipe

// stepsPath is the one accumulating sequence field: transform steps from a
// parent are kept ahead of the child's own steps instead of being replaced.
const stepsPath = "transform.steps"

// Merge combines a parent and a child document into a new document. Neither
// input is mutated. The merge is a right-biased fold: the child wins at every
// leaf except the accumulating transform-steps field, which concatenates
// parent entries first.
func Merge(parent, child Document) Document {
	return mergeAt(parent, child, "")
}

func mergeAt(parent, child Document, prefix string) Document {
	result := make(Document, len(parent)+len(child))
	for key, pv := range parent {
		result[key] = pv.Copy()
	}

	for key, cv := range child {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		pv, ok := result[key]
		if !ok {
			result[key] = cv.Copy()
			continue
		}

		switch {
		case pv.Kind() == KindMapping && cv.Kind() == KindMapping:
			result[key] = Map(mergeAt(pv.Mapping(), cv.Mapping(), path))
		case pv.Kind() == KindSequence && cv.Kind() == KindSequence && path == stepsPath:
			merged := make([]Value, 0, len(pv.Sequence())+len(cv.Sequence()))
			for _, item := range pv.Sequence() {
				merged = append(merged, item.Copy())
			}
			for _, item := range cv.Sequence() {
				merged = append(merged, item.Copy())
			}
			result[key] = Seq(merged...)
		default:
			// Sequences under any other key, scalars, and mismatched
			// shapes: child replaces parent wholesale.
			result[key] = cv.Copy()
		}
	}

	return result
}
