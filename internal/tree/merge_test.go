package tree

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func mergeAll(t *testing.T, payloads ...string) *Rendered {
	t.Helper()
	var state *Rendered
	for i, raw := range payloads {
		p := mustDecode(t, raw)
		next, err := Merge(state, p)
		if err != nil {
			t.Fatalf("Merge of payload %d failed: %v", i, err)
		}
		state = next
	}
	return state
}

func renderState(t *testing.T, r *Rendered) string {
	t.Helper()
	out, err := Render(r.Root, r.Components)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return out
}

func wireOf(t *testing.T, v any) any {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestMerge_EmptyDiffIsIdentity(t *testing.T) {
	state := mergeAll(t,
		`{"0":{"0":"a","s":["<b>","</b>"]},"1":2,"c":{"2":{"0":"z","s":["<i>","</i>"]}},"s":["<div>","","</div>"],"t":"Home"}`,
	)

	next, err := Merge(state, mustDecode(t, `{}`))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !reflect.DeepEqual(wireOf(t, next), wireOf(t, state)) {
		t.Errorf("empty diff changed the state:\n got: %v\nwant: %v", wireOf(t, next), wireOf(t, state))
	}
	if next.Title != "Home" {
		t.Errorf("title should be sticky, got %q", next.Title)
	}
}

func TestMerge_DeepMergeSlots(t *testing.T) {
	state := mergeAll(t,
		`{"0":{"0":"a","1":"b","s":["<b>","|","</b>"]},"1":"c","s":["<div>","","</div>"]}`,
		`{"0":{"1":"B"}}`,
	)

	if got := renderState(t, state); got != "<div><b>a|B</b>c</div>" {
		t.Errorf("render = %q", got)
	}
}

func TestMerge_DoesNotMutatePrevious(t *testing.T) {
	first := mergeAll(t, `{"0":{"0":"a","s":["<b>","</b>"]},"s":["",""]}`)
	before := wireOf(t, first)

	if _, err := Merge(first, mustDecode(t, `{"0":{"0":"changed"}}`)); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(wireOf(t, first), before) {
		t.Error("merge mutated the previous state")
	}
}

func TestMerge_StaticsReplaceWholeNode(t *testing.T) {
	state := mergeAll(t,
		`{"0":{"0":"a","1":"b","s":["<b>","","</b>"]},"s":["",""]}`,
		`{"0":{"0":"x","s":["<i>","</i>"]}}`,
	)

	if got := renderState(t, state); got != "<i>x</i>" {
		t.Errorf("render = %q", got)
	}
}

func TestMerge_TemplateReferenceReplacesWholeNode(t *testing.T) {
	state := mergeAll(t,
		`{"0":{"0":"1","1":"2","s":0},"p":{"0":["<a>","|","</a>"],"1":["<b>","</b>"]},"s":["",""]}`,
		`{"0":{"0":"q","s":1}}`,
	)

	if got := renderState(t, state); got != "<b>q</b>" {
		t.Errorf("render = %q", got)
	}
}

func TestMerge_ComprehensionReplacesRows(t *testing.T) {
	state := mergeAll(t,
		`{"0":{"d":[["a"],["b"],["c"]],"s":["<li>","</li>"]},"s":["<ul>","</ul>"]}`,
		`{"0":{"d":[["c"],["a"]]}}`,
	)

	if got := renderState(t, state); got != "<ul><li>c</li><li>a</li></ul>" {
		t.Errorf("render = %q", got)
	}
}

func TestMerge_TemplatesMergeByKey(t *testing.T) {
	state := mergeAll(t,
		`{"0":{"d":[[{"0":"a","s":0}]],"p":{"0":["<i>","</i>"]},"s":["",""]},"s":["",""]}`,
		`{"0":{"d":[[{"0":"a","s":0}],[{"0":"b","s":1}]],"p":{"1":["<b>","</b>"]}}}`,
	)

	if got := renderState(t, state); got != "<i>a</i><b>b</b>" {
		t.Errorf("render = %q", got)
	}
}

func TestMergeComponents_PositiveCrossReference(t *testing.T) {
	incoming := mustDecode(t, `{"c":{"1":{"0":"x","s":["<a>","</a>"]},"2":{"0":"y","s":1}}}`).Components

	comps, err := MergeComponents(nil, incoming)
	if err != nil {
		t.Fatalf("MergeComponents failed: %v", err)
	}

	want := wireOf(t, mustDecode(t, `{"0":"y","s":["<a>","</a>"]}`).Root)
	if got := wireOf(t, comps[2]); !reflect.DeepEqual(got, want) {
		t.Errorf("component 2 = %v, want %v", got, want)
	}
	if got := wireOf(t, comps[1]); !reflect.DeepEqual(got, wireOf(t, incoming[1])) {
		t.Errorf("component 1 changed: %v", got)
	}
}

func TestMergeComponents_NegativeCrossReference(t *testing.T) {
	old := mustDecode(t, `{"c":{"5":{"0":"z","s":["<b>","</b>"]}}}`).Components
	incoming := mustDecode(t, `{"c":{"7":{"s":-5}}}`).Components

	comps, err := MergeComponents(old, incoming)
	if err != nil {
		t.Fatalf("MergeComponents failed: %v", err)
	}

	if got, want := wireOf(t, comps[7]), wireOf(t, old[5]); !reflect.DeepEqual(got, want) {
		t.Errorf("component 7 = %v, want %v", got, want)
	}
	if _, ok := comps[5]; !ok {
		t.Error("untouched old component 5 should be kept")
	}
}

func TestMergeComponents_NegativeUsesPreviousValue(t *testing.T) {
	old := mustDecode(t, `{"c":{"1":{"0":"old","s":["<p>","</p>"]}}}`).Components
	incoming := mustDecode(t, `{"c":{"1":{"0":"new"},"2":{"s":-1}}}`).Components

	comps, err := MergeComponents(old, incoming)
	if err != nil {
		t.Fatal(err)
	}

	one, _ := Render(&Node{Statics: ListStatics("", ""), Slots: map[int]Value{0: ComponentRef(1)}}, comps)
	two, _ := Render(&Node{Statics: ListStatics("", ""), Slots: map[int]Value{0: ComponentRef(2)}}, comps)
	if one != "<p>new</p>" {
		t.Errorf("component 1 = %q", one)
	}
	if two != "<p>old</p>" {
		t.Errorf("component 2 = %q, should copy the previous value of 1", two)
	}
}

func TestMergeComponents_Chain(t *testing.T) {
	state := mergeAll(t, `{
		"c": {
			"1": {"0": {"0": "index_1", "s": ["\nIF ", ""]}, "s": ["", ""]},
			"2": {"0": {"0": "index_2", "s": ["\nELSE ", ""]}, "s": 1},
			"3": {"0": {"0": "index_3"}, "s": 2}
		},
		"0": {"d": [["1", 1], ["2", 2], ["3", 3]], "s": ["\n", ":", ""]},
		"s": ["<div>", "\n</div>\n"]
	}`)

	want := "<div>\n1:\nIF index_1\n2:\nELSE index_2\n3:\nELSE index_3\n</div>\n"
	if got := renderState(t, state); got != want {
		t.Errorf("render = %q, want %q", got, want)
	}
	for cid, n := range state.Components {
		if !n.Statics.IsList() {
			t.Errorf("component %d still carries a cross-reference", cid)
		}
	}
}

func TestMergeComponents_UpdateExisting(t *testing.T) {
	state := mergeAll(t,
		`{"0":1,"1":2,"c":{"1":{"0":"a","s":["<a>","</a>"]},"2":{"0":"b","s":["<b>","</b>"]}},"s":["","",""]}`,
		`{"c":{"2":{"0":"B"}}}`,
	)

	if got := renderState(t, state); got != "<a>a</a><b>B</b>" {
		t.Errorf("render = %q", got)
	}
}

func TestMergeComponents_Errors(t *testing.T) {
	tests := []struct {
		name     string
		old      string
		incoming string
		want     error
	}{
		{"dangling positive", `{}`, `{"c":{"2":{"0":"y","s":9}}}`, ErrMissingComponent},
		{"dangling negative", `{}`, `{"c":{"2":{"s":-9}}}`, ErrMissingComponent},
		{"positive not in incoming", `{"c":{"1":{"0":"x","s":["",""]}}}`, `{"c":{"2":{"s":1}}}`, ErrMissingComponent},
		{"self cycle", `{}`, `{"c":{"1":{"s":1}}}`, ErrComponentCycle},
		{"cycle", `{}`, `{"c":{"1":{"s":2},"2":{"s":3},"3":{"s":1}}}`, ErrComponentCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := mustDecode(t, tt.old).Components
			incoming := mustDecode(t, tt.incoming).Components

			_, err := MergeComponents(old, incoming)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("error should be a *DecodeError, got %T", err)
			}
		})
	}
}

func TestMerge_ErrorLeavesPreviousUsable(t *testing.T) {
	state := mergeAll(t, `{"0":1,"c":{"1":{"0":"a","s":["<a>","</a>"]}},"s":["",""]}`)

	if _, err := Merge(state, mustDecode(t, `{"c":{"2":{"s":7}}}`)); err == nil {
		t.Fatal("expected an error")
	}
	if got := renderState(t, state); got != "<a>a</a>" {
		t.Errorf("previous state changed: %q", got)
	}
}
