package extract

import (
	"errors"
	"fmt"
)

func apply(n Node, st Stage) (Node, error) {
	switch st.Transform {
	case TransformJSON:
		text := n.Text()
		if text == "" {
			return Node{}, errors.New("empty input")
		}
		v, err := Decode([]byte(text))
		if err != nil {
			return Node{}, err
		}
		return DocumentNode(v), nil
	case TransformText:
		return DocumentNode(String(n.Text())), nil
	case TransformSelectKeys:
		v, err := selectKeys(n.val, st.Args)
		return DocumentNode(v), err
	case TransformByLabel:
		v, err := byLabel(n.val, func(item Value) Value { return selectFields(item, st.Args) })
		return DocumentNode(v), err
	case TransformLabelValues:
		v, err := byLabel(n.val, func(item Value) Value { return item.Get("values") })
		return DocumentNode(v), err
	case TransformPluck:
		v, err := pluck(n.val, st.Args)
		return DocumentNode(v), err
	default:
		return Node{}, fmt.Errorf("unknown transform %q", st.Transform)
	}
}

func selectKeys(v Value, keys []string) (Value, error) {
	switch v.Kind() {
	case KindNull:
		return Null(), nil
	case KindMap:
		return filterMap(v, keys), nil
	case KindList:
		items := v.Items()
		out := make([]Value, 0, len(items))
		for i, item := range items {
			if item.Kind() != KindMap {
				return Value{}, fmt.Errorf("item %d: expected map, got %s", i, item.Kind())
			}
			out = append(out, filterMap(item, keys))
		}
		return List(out...), nil
	default:
		return Value{}, fmt.Errorf("expected map or list, got %s", v.Kind())
	}
}

// filterMap keeps the document order of v.
func filterMap(v Value, keys []string) Value {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}
	var fields []Field
	for _, k := range v.Keys() {
		if _, ok := allowed[k]; ok {
			fields = append(fields, Field{Key: k, Value: v.Get(k)})
		}
	}
	return Map(fields...)
}

// selectFields keeps the order of keys.
func selectFields(v Value, keys []string) Value {
	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, Field{Key: k, Value: v.Get(k)})
	}
	return Map(fields...)
}

func byLabel(v Value, project func(Value) Value) (Value, error) {
	switch v.Kind() {
	case KindNull:
		return Null(), nil
	case KindList:
	default:
		return Value{}, fmt.Errorf("expected list, got %s", v.Kind())
	}
	var fields []Field
	for i, item := range v.Items() {
		label, ok := item.Get("label").Str()
		if !ok {
			return Value{}, fmt.Errorf("item %d: missing label", i)
		}
		fields = append(fields, Field{Key: label, Value: project(item)})
	}
	return Map(fields...), nil
}

func pluck(v Value, keys []string) (Value, error) {
	switch v.Kind() {
	case KindNull:
		return Null(), nil
	case KindList:
	default:
		return Value{}, fmt.Errorf("expected list, got %s", v.Kind())
	}
	var out []Value
	for _, item := range v.Items() {
		for _, k := range keys {
			out = append(out, item.Get(k))
		}
	}
	return List(out...), nil
}
