package expr

import (
	"fmt"
	"math/big"

	"github.com/zclconf/go-cty/cty"
)

// toCty converts a decoded declaration value into a cty value for HCL
// evaluation. Unknown Go types degrade to their string rendering.
func toCty(v any) cty.Value {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case string:
		return cty.StringVal(val)
	case bool:
		return cty.BoolVal(val)
	case int:
		return cty.NumberIntVal(int64(val))
	case int64:
		return cty.NumberIntVal(val)
	case float64:
		return cty.NumberFloatVal(val)
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, v := range val {
			attrs[k] = toCty(v)
		}
		return cty.ObjectVal(attrs)
	case map[any]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, v := range val {
			attrs[fmt.Sprintf("%v", k)] = toCty(v)
		}
		return cty.ObjectVal(attrs)
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal
		}
		elems := make([]cty.Value, len(val))
		for i, v := range val {
			elems[i] = toCty(v)
		}
		return cty.TupleVal(elems)
	default:
		return cty.StringVal(fmt.Sprintf("%v", val))
	}
}

// fromCty converts an evaluated cty value back into plain Go values.
func fromCty(v cty.Value) any {
	if v.IsNull() {
		return nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString()
	case ty == cty.Bool:
		return v.True()
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if i, acc := bf.Int64(); acc == big.Exact {
			return int(i)
		}
		f, _ := bf.Float64()
		return f
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for k, ev := range v.AsValueMap() {
			out[k] = fromCty(ev)
		}
		return out
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		var out []any
		for _, ev := range v.AsValueSlice() {
			out = append(out, fromCty(ev))
		}
		return out
	default:
		return v.GoString()
	}
}
