package infrastructure

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"topup/internal/service/topup/domain"
)

var orderColumns = []string{
	"id", "recipient_ref", "target_account", "provider", "denomination", "amount", "payment_method",
	"payment_status", "fulfillment_status", "checkout_reference", "fulfillment_proof", "created_at", "updated_at",
}

func setupGormTest(t *testing.T) (*GormOrderRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: db, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("Failed to open gorm: %v", err)
	}
	return NewGormOrderRepository(gdb), mock
}

func TestGormCreate(t *testing.T) {
	repo, mock := setupGormTest(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `topup_orders`")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), sampleOrder("o1", time.Now().UTC())); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGormCreateDuplicate(t *testing.T) {
	repo, mock := setupGormTest(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `topup_orders`")).
		WillReturnError(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry 'o1' for key 'PRIMARY'"})

	err := repo.Create(context.Background(), sampleOrder("o1", time.Now().UTC()))
	if !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
}

func TestGormFindByID(t *testing.T) {
	repo, mock := setupGormTest(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `topup_orders` WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(orderColumns).AddRow(
			"o1", "", "081234567890", "telkomsel", "10k", 11000, "QRIS",
			"PAID", "SUCCESS", "https://pay.example/o1", "SN123", created, created,
		))

	got, err := repo.FindByID(context.Background(), "o1")
	if err != nil {
		t.Fatal(err)
	}
	if got.PaymentStatus != domain.PaymentPaid || got.FulfillmentStatus != domain.FulfillmentSuccess || got.FulfillmentProof != "SN123" {
		t.Fatalf("got %+v", got)
	}
	if got.Product != domain.NewProductKey("telkomsel", "10k") || got.Amount != 11000 {
		t.Fatalf("product = %+v amount = %d", got.Product, got.Amount)
	}
}

func TestGormFindByIDNotFound(t *testing.T) {
	repo, mock := setupGormTest(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `topup_orders` WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(orderColumns))

	if _, err := repo.FindByID(context.Background(), "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestGormCompareAndSet(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		count    int
		want     bool
		wantErr  error
	}{
		{"swapped", 1, -1, true, nil},
		{"lost race", 0, 1, false, nil},
		{"missing", 0, 0, false, domain.ErrOrderNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := setupGormTest(t)
			mock.ExpectExec(regexp.QuoteMeta("UPDATE `topup_orders` SET")).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.count >= 0 {
				mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `topup_orders`")).
					WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(tt.count))
			}

			got, err := repo.CompareAndSetPaymentStatus(context.Background(), "o1", domain.PaymentUnpaid, domain.PaymentPaid)
			if got != tt.want || !errors.Is(err, tt.wantErr) {
				t.Fatalf("CAS = %v, %v; want %v, %v", got, err, tt.want, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestGormSetFulfillmentStatus(t *testing.T) {
	repo, mock := setupGormTest(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `topup_orders` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `topup_orders`")).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))

	err := repo.SetFulfillmentStatus(context.Background(), "missing", domain.FulfillmentFailed, "")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestGormList(t *testing.T) {
	repo, mock := setupGormTest(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `topup_orders` WHERE payment_status = ? AND fulfillment_status = ? ORDER BY created_at DESC")).
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow("o2", "", "081234567890", "xl", "5k", 6200, "DANA", "PAID", "UNRESOLVED", "ref2", nil, now, now).
			AddRow("o1", "628111", "081234567890", "xl", "5k", 6200, "DANA", "PAID", "UNRESOLVED", "ref1", nil, now, now))

	got, err := repo.List(context.Background(), domain.OrderFilter{
		PaymentStatus:     domain.PaymentPaid,
		FulfillmentStatus: domain.FulfillmentUnresolved,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "o2" || got[1].RecipientRef != "628111" || got[0].FulfillmentProof != "" {
		t.Fatalf("List = %+v", got)
	}
}
