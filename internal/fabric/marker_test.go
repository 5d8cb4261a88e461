package fabric

import (
	"testing"

	"github.com/cmu-db/oucore/internal/ou"
)

func TestMarkerFireIsNoopWithoutObserver(t *testing.T) {
	m := Marker{Name: "index_scan_begin"}
	if err := m.Fire(nil, 1, 2, Arg{Name: "relid", Value: uint32(100)}); err != nil {
		t.Fatalf("Fire with nil observer returned error: %v", err)
	}
}

func TestMarkerFireDispatchesToObserver(t *testing.T) {
	m := Marker{Name: "seq_scan_end"}
	var gotName string
	var gotOU ou.Index
	var gotArgs []Arg

	observer := func(name string, ouIndex ou.Index, planNodeID ou.PlanNodeID, args []Arg) {
		gotName = name
		gotOU = ouIndex
		gotArgs = args
	}

	if err := m.Fire(observer, 3, 4, Arg{Name: "tuples", Value: int64(10)}); err != nil {
		t.Fatalf("Fire returned error: %v", err)
	}
	if gotName != "seq_scan_end" || gotOU != 3 || len(gotArgs) != 1 {
		t.Fatalf("observer saw name=%q ou=%d args=%v", gotName, gotOU, gotArgs)
	}
}

func TestMarkerFireRejectsTooManyArgs(t *testing.T) {
	m := Marker{Name: "overflow"}
	args := make([]Arg, ou.MaxMarkerArgs+1)
	if err := m.Fire(nil, 0, 0, args...); err == nil {
		t.Fatal("expected an error when exceeding the marker arg budget")
	}
}
