package input

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"isin-controls/internal/config"
	"isin-controls/internal/instrument"
)

const sheet = "\ufeffCON-412 estrazione;;;;;;\n" +
	";;;;;;\n" +
	"ISIN;OCCORRENZE;NUMERO ORDINE;MERCATO;DESCRIZIONE ISIN;DATA ESEGUITO;ORA ESEGUITO\n" +
	"IT0000000001;2;;;BTP;;\n" +
	";;A-1;MTAA(MTA);;15/09/2025;10:15:00\n" +
	";;A-2;;;15/09/2025;10.16.00.000000\n" +
	";;;;;;\n" +
	"DE0000000002;3;;;BUND;;\n" +
	";;B-1;XETR;;2025-09-16;0.5\n" +
	"BAD;1;;;;;\n" +
	";;X-1;XETR;;16/09/2025;12:00:00\n" +
	"FR0000000003;0;;;OAT;;\n" +
	"NL0000000004;1;;;DSL;;\n" +
	";;D-1;XAMS;;16/09/2025;\n" +
	";;D-2;XAMS;;16/09/2025;12:00:00\n"

func readSheet(t *testing.T, body string) *Sheet {
	t.Helper()
	s, err := NewReader(config.InputConfig{Delimiter: ";"}, nil).Read(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	return s
}

func TestReader_DiscoversHeaderByName(t *testing.T) {
	s := readSheet(t, sheet)

	want := Columns{HeaderRow: 2, ISIN: 0, Occurrences: 1, Order: 2, Market: 3, Date: 5, Time: 6}
	if s.Columns != want {
		t.Fatalf("columns = %+v, want %+v", s.Columns, want)
	}
}

func TestReader_BuildsGroups(t *testing.T) {
	s := readSheet(t, sheet)

	if len(s.Groups) != 4 {
		t.Fatalf("expected 4 groups, got %d", len(s.Groups))
	}

	first := s.Groups[0]
	if first.ISIN != "IT0000000001" || first.SourceRowRef != 4 || len(first.Orders) != 2 {
		t.Fatalf("unexpected first group %+v", first)
	}
	a1 := first.Orders[0]
	if a1.RowRef != 5 || a1.OrderNumber != "A-1" || a1.Market() != "MTAA" {
		t.Errorf("unexpected order %+v", a1)
	}
	if want := time.Date(2025, 9, 15, 10, 15, 0, 0, time.UTC); !a1.ExecutedAt.Equal(want) {
		t.Errorf("executed at %s, want %s", a1.ExecutedAt, want)
	}
	if a2 := first.Orders[1]; a2.MarketCode != instrument.OffExchangeMarket {
		t.Errorf("empty market should default to XOFF, got %q", a2.MarketCode)
	}

	// DE0000000002 声明 3 笔只有 1 笔，替换为虚拟订单。
	second := s.Groups[1]
	if len(second.Orders) != 1 || !second.Orders[0].IsVirtual {
		t.Fatalf("expected virtual order for short group, got %+v", second.Orders)
	}

	if zero := s.Groups[2]; zero.ISIN != "FR0000000003" || len(zero.Orders) != 1 || !zero.Orders[0].IsVirtual {
		t.Fatalf("expected virtual order for zero-count group, got %+v", zero)
	}

	last := s.Groups[3]
	if len(last.Orders) != 1 || last.Orders[0].OrderNumber != "D-1" {
		t.Fatalf("unexpected last group orders %+v", last.Orders)
	}
	if last.Orders[0].HasExecutionTime() {
		t.Errorf("missing time should leave execution time empty")
	}

	if len(s.Anomalies) != 1 || s.Anomalies[0].ISIN != "DE0000000002" {
		t.Errorf("unexpected anomalies %+v", s.Anomalies)
	}
	// X-1 属于被丢弃的 ISIN，D-2 超出声明数量。
	if s.Dropped != 2 {
		t.Errorf("expected 2 dropped rows, got %d", s.Dropped)
	}
	if s.UnparsedTimes != 1 {
		t.Errorf("expected 1 unparsed time, got %d", s.UnparsedTimes)
	}
}

func TestReader_FallbackColumns(t *testing.T) {
	body := "ISIN,N,,,,,,,,\n" +
		"IT0000000001,1,,,,,,,,\n" +
		",,,,,,,,01/02/2025,09:30:00\n"
	s, err := NewReader(config.InputConfig{Delimiter: ","}, nil).Read(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}

	if s.Columns.Occurrences != 1 || s.Columns.Order != -1 || s.Columns.Date != 8 || s.Columns.Time != 9 {
		t.Fatalf("unexpected fallback columns %+v", s.Columns)
	}
	order := s.Groups[0].Orders[0]
	if want := time.Date(2025, 2, 1, 9, 30, 0, 0, time.UTC); !order.ExecutedAt.Equal(want) {
		t.Errorf("executed at %s, want %s", order.ExecutedAt, want)
	}
}

func TestReader_OccurrencesFallback(t *testing.T) {
	body := "ISIN;OCCURRENCES\n" +
		"IT0000000001;2.0\n;\n" +
		"IT0000000002;n/a\n"
	s := readSheet(t, body)
	if s.Groups[0].ExpectedOrderCount != 2 || s.Groups[1].ExpectedOrderCount != 0 {
		t.Fatalf("unexpected expected counts %d/%d", s.Groups[0].ExpectedOrderCount, s.Groups[1].ExpectedOrderCount)
	}
	if orders := s.Groups[1].Orders; len(orders) != 1 || !orders[0].IsVirtual {
		t.Errorf("unparsable count should leave only a virtual order, got %+v", orders)
	}
}

func TestReader_SkipsRowsWithoutOrderNumber(t *testing.T) {
	body := "ISIN;OCCORRENZE;NUMERO ORDINE;MERCATO;DATA ESEGUITO;ORA ESEGUITO\n" +
		"IT0000000001;1;;;;\n" +
		";;;nota;;\n" +
		";;A1;MTAA;15/09/2025;10:00:00\n"
	s := readSheet(t, body)

	orders := s.Groups[0].Orders
	if len(orders) != 1 || orders[0].OrderNumber != "A1" || orders[0].Market() != "MTAA" {
		t.Fatalf("note row must not take the order slot, got %+v", orders)
	}
	if s.Dropped != 1 {
		t.Errorf("expected the note row counted as dropped, got %d", s.Dropped)
	}
	if len(s.Anomalies) != 0 {
		t.Errorf("unexpected anomalies %+v", s.Anomalies)
	}
}

func TestReader_MissingHeader(t *testing.T) {
	if _, err := NewReader(config.InputConfig{}, nil).Read(strings.NewReader("a;b\n1;2\n")); err == nil {
		t.Fatalf("expected error when no ISIN header is present")
	}
}

func TestReader_ReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "con412.csv")
	if err := os.WriteFile(path, []byte(sheet), 0o600); err != nil {
		t.Fatalf("write sheet: %v", err)
	}
	s, err := NewReader(config.InputConfig{Delimiter: ";"}, nil).ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if len(s.Groups) != 4 {
		t.Errorf("expected 4 groups, got %d", len(s.Groups))
	}

	if _, err := NewReader(config.InputConfig{}, nil).ReadFile(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Errorf("expected error for missing file")
	}
}
