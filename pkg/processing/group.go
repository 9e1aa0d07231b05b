package processing

import "github.com/frontier-framework/fmf/pkg/document"

// DefaultGroupSize is the images_group batch size when the chain does
// not set one.
const DefaultGroupSize = 4

// GroupImages batches documents that carry blobs into fixed-size
// groups; the final group may be smaller. Documents without blobs are
// skipped.
func GroupImages(docs []document.Document, size int) []document.ImageGroup {
	if size <= 0 {
		size = DefaultGroupSize
	}

	var groups []document.ImageGroup
	var current []document.Document
	for _, doc := range docs {
		if len(doc.Blobs) == 0 {
			continue
		}
		current = append(current, doc)
		if len(current) == size {
			groups = append(groups, document.ImageGroup{Index: len(groups), Docs: current})
			current = nil
		}
	}
	if len(current) > 0 {
		groups = append(groups, document.ImageGroup{Index: len(groups), Docs: current})
	}
	return groups
}
