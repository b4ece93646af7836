package extract

import (
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extract runs every stage of h starting from root and returns the final node.
func Extract(root Node, h Hierarchy) (Node, error) {
	cur := root
	for i, st := range h.Stages {
		if cur.kind() != st.Input {
			return Node{}, &StructuralError{
				Stage:  i,
				Step:   -1,
				Reason: "expected " + string(st.Input) + " input, got " + string(cur.kind()),
			}
		}
		next, err := descend(cur, i, st)
		if err != nil {
			return Node{}, err
		}
		if st.Transform != TransformNone {
			next, err = apply(next, st)
			if err != nil {
				return Node{}, &TransformError{Stage: i, Transform: st.Transform, Err: err}
			}
		}
		cur = next
	}
	return cur, nil
}

func descend(cur Node, stage int, st Stage) (Node, error) {
	if st.Input == InputDocument {
		v := cur.val
		for _, step := range st.Path {
			v = v.Get(step.Tag)
		}
		return DocumentNode(v), nil
	}
	sel := cur.sel
	for j, step := range st.Path {
		sel = findFirst(sel, step)
		if sel.Length() == 0 {
			return Node{}, &StructuralError{Stage: stage, Step: j, Tag: step.Tag, Attrs: step.Attrs}
		}
	}
	return MarkupNode(sel), nil
}

func findFirst(sel *goquery.Selection, step Step) *goquery.Selection {
	return sel.Find(step.Tag).FilterFunction(func(_ int, s *goquery.Selection) bool {
		for k, want := range step.Attrs {
			got, ok := s.Attr(k)
			if !ok || !attrMatches(k, got, want) {
				return false
			}
		}
		return true
	}).First()
}

// attrMatches compares attribute values exactly, except class, which matches
// when every token of want is one of the node's classes.
func attrMatches(name, got, want string) bool {
	if name != "class" {
		return got == want
	}
	classes := strings.Fields(got)
	tokens := strings.Fields(want)
	if len(tokens) == 0 {
		return len(classes) == 0
	}
	for _, tok := range tokens {
		if !slices.Contains(classes, tok) {
			return false
		}
	}
	return true
}
