package templating

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MergeJSON deep-merges src into dst, both raw JSON object documents, with
// the call-buffer semantics: nested objects merge recursively, arrays and
// scalars are replaced, later writes win. Nothing in this module calls it;
// the engine merges call buffers as decoded noetl.Value with noetl.DeepMerge.
func MergeJSON(dst, src []byte) ([]byte, error) {
	if len(dst) == 0 {
		return src, nil
	}
	if len(src) == 0 {
		return dst, nil
	}
	result := gjson.ParseBytes(src)
	out := dst
	var err error
	result.ForEach(func(key, value gjson.Result) bool {
		out, err = mergeKey(out, key.String(), value)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func mergeKey(dst []byte, key string, value gjson.Result) ([]byte, error) {
	if value.IsObject() {
		existing := gjson.GetBytes(dst, key)
		if existing.IsObject() {
			merged, err := MergeJSON([]byte(existing.Raw), []byte(value.Raw))
			if err != nil {
				return nil, err
			}
			return sjson.SetRawBytes(dst, key, merged)
		}
	}
	return sjson.SetRawBytes(dst, key, []byte(value.Raw))
}

// CollectAppend implements retry.on_success.collect=append: it reads the
// array at mergePath in each successive attempt's result and concatenates
// them in attempt order into a single JSON array document.
func CollectAppend(mergePath string, attemptResults [][]byte) ([]byte, error) {
	out := []byte("[]")
	idx := 0
	for _, raw := range attemptResults {
		arr := gjson.GetBytes(raw, mergePath)
		if !arr.IsArray() {
			continue
		}
		var err error
		for _, item := range arr.Array() {
			out, err = sjson.SetRawBytes(out, itoaPath(idx), []byte(item.Raw))
			if err != nil {
				return nil, err
			}
			idx++
		}
	}
	return out, nil
}

// CollectAll implements retry.on_success.collect=collect: an array of the
// raw per-attempt tool results, one per attempt, in attempt order.
func CollectAll(attemptResults [][]byte) ([]byte, error) {
	out := []byte("[]")
	var err error
	for i, raw := range attemptResults {
		out, err = sjson.SetRawBytes(out, itoaPath(i), raw)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func itoaPath(i int) string {
	// sjson accepts bare numeric path segments for array index append/set.
	digits := [10]byte{}
	n := len(digits)
	if i == 0 {
		return "0"
	}
	for i > 0 {
		n--
		digits[n] = byte('0' + i%10)
		i /= 10
	}
	return string(digits[n:])
}
