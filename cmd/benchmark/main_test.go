package main

import (
	"math"
	"strings"
	"testing"
)

const sample = `step,type,amount,nameOrig,oldbalanceOrg,newbalanceOrig,nameDest,oldbalanceDest,newbalanceDest,isFraud,isFlaggedFraud
1,PAYMENT,9839.64,C1231006815,170136.0,160296.36,M1979787155,0.0,0.0,0,0
1,TRANSFER,181.0,C1305486145,181.0,0.0,C553264065,0.0,0.0,1,0
bad,TRANSFER,1,C1,1,0,C2,0,0,1,0
26,CASH_OUT,181.0,C840083671,181.0,0.0,C38997010,21182.0,0.0,1,0
`

func TestReadPaySim(t *testing.T) {
	txs, err := readPaySim(strings.NewReader(sample), 0, false, 1.0)
	if err != nil {
		t.Fatalf("readPaySim failed: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(txs))
	}
	if txs[1].Type != "TRANSFER" || !txs[1].IsFraud || txs[1].Amount != "181.0" {
		t.Errorf("unexpected row %+v", txs[1])
	}

	fraud, _ := readPaySim(strings.NewReader(sample), 0, true, 1.0)
	if len(fraud) != 2 {
		t.Errorf("fraud-only: expected 2 rows, got %d", len(fraud))
	}

	limited, _ := readPaySim(strings.NewReader(sample), 1, false, 1.0)
	if len(limited) != 1 {
		t.Errorf("limit: expected 1 row, got %d", len(limited))
	}

	if _, err := readPaySim(strings.NewReader("a,b\n1,2\n"), 0, false, 1.0); err == nil {
		t.Error("expected error for missing columns")
	}
}

func TestToRequestMapsStepToTimestamp(t *testing.T) {
	req := toRequest(7, PaySimTransaction{Step: 26, Type: "CASH_OUT", Amount: "181.0", NameOrig: "C1", NameDest: "C2"})

	if req.TransactionID != "paysim-7" {
		t.Errorf("transaction_id = %s", req.TransactionID)
	}
	if req.Timestamp != "2024-01-02T02:00:00Z" {
		t.Errorf("timestamp = %s, want 2024-01-02T02:00:00Z", req.Timestamp)
	}
	if req.TransactionType != "cash_out" || req.Amount.String() != "181.0" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestConfusionScores(t *testing.T) {
	c := &confusion{}
	for _, p := range []struct{ predicted, actual bool }{
		{true, true}, {true, true}, {true, false}, {false, true}, {false, false}, {false, false},
	} {
		c.add(p.predicted, p.actual)
	}

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"precision", c.precision(), 2.0 / 3.0},
		{"recall", c.recall(), 2.0 / 3.0},
		{"f1", c.f1(), 2.0 / 3.0},
		{"accuracy", c.accuracy(), 4.0 / 6.0},
	}
	for _, tt := range tests {
		if math.Abs(tt.got-tt.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if empty := (&confusion{}); empty.precision() != 0 || empty.f1() != 0 {
		t.Error("empty matrix should score 0")
	}
}
