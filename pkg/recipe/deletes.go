package recipe

import "fmt"

// deleteKey is the directive key listing dot paths to remove after a merge.
const deleteKey = "delete"

// extendsKey is the single-parent inheritance reference key.
const extendsKey = "extends"

// applyDeletes applies the document's delete directive, if any, and strips
// the directive key. Each listed path is removed in order; deleting an
// absent path is a no-op. The input is not mutated.
func applyDeletes(doc Document) (Document, error) {
	directive, ok := doc[deleteKey]
	if !ok {
		return doc.Copy(), nil
	}

	paths, err := deletePaths(directive)
	if err != nil {
		return nil, err
	}

	result := doc.Copy()
	delete(result, deleteKey)
	for _, path := range paths {
		if err := Delete(result, path); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// deletePaths extracts the ordered list of dot paths from a delete
// directive value.
func deletePaths(directive Value) ([]string, error) {
	if directive.Kind() != KindSequence {
		return nil, NewParseFailureError(
			fmt.Sprintf("delete directive is a %s, expected a sequence of paths", directive.Kind()), nil)
	}
	paths := make([]string, 0, len(directive.Sequence()))
	for _, item := range directive.Sequence() {
		path, ok := item.StringScalar()
		if !ok {
			return nil, NewParseFailureError(
				fmt.Sprintf("delete directive entry is a %s, expected a string path", item.Kind()), nil)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
