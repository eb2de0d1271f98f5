package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"isin-controls/internal/instrument"
)

func sampleGroups() []*instrument.Group {
	passed := &instrument.Order{RowRef: 5, OrderNumber: "A-1", MarketCode: "MTAA(MTA)"}
	for i := 1; i <= instrument.ControlCount; i++ {
		passed.SetControl(i, instrument.Passed)
	}

	venue := &instrument.Order{RowRef: 6, OrderNumber: "A-2", MarketCode: "XETR"}
	venue.SetControl(1, instrument.Passed)
	venue.SetControl(2, instrument.Failed)

	apiErr := &instrument.Order{RowRef: 9, OrderNumber: "C-1", MarketCode: "XOFF", APIError: true}

	group := &instrument.Group{ISIN: "IT0000000001", SourceRowRef: 4, Orders: []*instrument.Order{passed, venue}}
	errGroup := &instrument.Group{ISIN: "DE0000000002", SourceRowRef: 8, Orders: []*instrument.Order{apiErr}}
	virtualGroup := &instrument.Group{ISIN: "FR0000000003", SourceRowRef: 10}
	virtualGroup.Orders = []*instrument.Order{instrument.VirtualOrder(virtualGroup)}
	virtualGroup.Orders[0].SetControl(1, instrument.Failed)

	return []*instrument.Group{group, errGroup, virtualGroup}
}

func TestWriter_WritesOneMarkPerOrder(t *testing.T) {
	var buf bytes.Buffer
	n, err := NewWriter(nil).Write(&buf, sampleGroups())
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	want := [][]string{
		Header,
		{"5", "IT0000000001", "A-1", "MTAA", "", "", "", "", ""},
		{"6", "IT0000000001", "A-2", "XETR", "", "X", "", "", ""},
		{"9", "DE0000000002", "C-1", "XOFF", "", "", "", "", "X"},
	}
	if !reflect.DeepEqual(records, want) {
		t.Fatalf("unexpected output:\n%v\nwant:\n%v", records, want)
	}
}

func TestWriter_WriteFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "annotated.csv")
	n, err := NewWriter(nil).WriteFile(path, sampleGroups())
	if err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 rows, got %d", n)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("output not created: %v", err)
	}
}
