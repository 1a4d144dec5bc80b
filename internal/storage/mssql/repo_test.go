package mssql

import (
	"context"
	"errors"
	"testing"

	mssqldb "github.com/microsoft/go-mssqldb"

	"txetl/internal/storage"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		number int32
		want   error
	}{
		{2627, storage.ErrUniqueViolation},
		{2601, storage.ErrUniqueViolation},
		{547, storage.ErrConstraint},
		{515, storage.ErrConstraint},
		{1205, nil}, // deadlock victim is transient, not integrity
	}
	for _, c := range cases {
		if got := Classify(mssqldb.Error{Number: c.number}); got != c.want {
			t.Errorf("Classify(%d) = %v, want %v", c.number, got, c.want)
		}
	}
	if got := Classify(errors.New("io timeout")); got != nil {
		t.Errorf("Classify(plain) = %v, want nil", got)
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	t.Parallel()

	_, _, err := NewRepository(context.Background(), Config{DSN: "sqlserver://%zz"})
	if err == nil {
		t.Fatal("expected DSN error")
	}
}
