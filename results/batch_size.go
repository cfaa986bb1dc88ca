package results

import (
	"reflect"

	"github.com/photonml/photon/core/tensor"
	"github.com/photonml/photon/pkg/errors"
)

// maxExtractDepth bounds the structural recursion; cyclic or pathologically
// deep batches degrade to size 1 instead of exhausting the stack.
const maxExtractDepth = 1000

// ExtractBatchSize infers the batch size from an arbitrarily nested batch
// structure and records it on the collection. Inference never fails: any
// unrecognized or runaway structure falls back to 1.
func (c *Collection) ExtractBatchSize(batch any) {
	size, err := extractBatchSize(batch)
	if err != nil || size <= 0 {
		size = 1
	}
	c.batchSize = size
}

func extractBatchSize(batch any) (size int, err error) {
	defer errors.Recover(&err, "extractBatchSize")
	return walkBatch(batch, 0), nil
}

// walkBatch recursively unpacks a batch looking for a tensor: a tensor
// contributes its leading-dimension size, a string its length, containers
// recurse into their first element, and anything else counts as 1.
func walkBatch(batch any, depth int) int {
	if depth > maxExtractDepth {
		return 1
	}
	switch b := batch.(type) {
	case *tensor.Tensor:
		return b.Dim0()
	case string:
		return len(b)
	case map[string]any:
		for _, v := range b {
			return walkBatch(v, depth+1)
		}
		return 1
	case []any:
		if len(b) == 0 {
			return 1
		}
		return walkBatch(b[0], depth+1)
	}

	rv := reflect.ValueOf(batch)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return 1
		}
		return walkBatch(rv.Index(0).Interface(), depth+1)
	case reflect.Map:
		it := rv.MapRange()
		if it.Next() {
			return walkBatch(it.Value().Interface(), depth+1)
		}
		return 1
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return 1
		}
		return walkBatch(rv.Elem().Interface(), depth+1)
	default:
		return 1
	}
}
