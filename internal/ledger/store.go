package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/schema"
	"main/pkg/exception"
)

// OrderRow is the durable record of a submitted order.
type OrderRow struct {
	OrderID         string    `gorm:"primaryKey;size:64"`
	PlanID          string    `gorm:"uniqueIndex;size:64"`
	Symbol          string    `gorm:"index;size:32"`
	Side            uint16    `gorm:""`
	State           uint16    `gorm:"index"`
	ExchangeOrderID string    `gorm:"size:64"`
	Quantity        string    `gorm:"size:40"`
	FilledQuantity  string    `gorm:"size:40"`
	SubmittedAt     time.Time `gorm:""`
	LastUpdate      time.Time `gorm:""`
}

func (OrderRow) TableName() string { return "orders" }

// PositionRow is the durable per-symbol position record.
type PositionRow struct {
	Symbol        string    `gorm:"primaryKey;size:32"`
	NetQuantity   string    `gorm:"size:40"`
	AvgEntryPrice string    `gorm:"size:40"`
	RealizedPnL   string    `gorm:"size:40"`
	UpdatedAt     time.Time `gorm:""`
}

func (PositionRow) TableName() string { return "positions" }

// Store persists orders and positions in PostgreSQL. It backs the
// "resume after restart" path together with the journal; either source
// alone is enough to rebuild non-terminal orders.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm handle and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, exception.ErrLedgerStoreUnset
	}
	if err := db.AutoMigrate(&OrderRow{}, &PositionRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// UpsertOrder writes the current order lifecycle state.
func (s *Store) UpsertOrder(ctx context.Context, row OrderRow) error {
	if s == nil {
		return exception.ErrLedgerStoreUnset
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, UpdateAll: true}).
		Create(&row).Error
}

// UpsertPosition writes the current position snapshot for a symbol.
func (s *Store) UpsertPosition(ctx context.Context, pos Position) error {
	if s == nil {
		return exception.ErrLedgerStoreUnset
	}
	row := PositionRow{
		Symbol:        pos.Symbol,
		NetQuantity:   pos.NetQuantity.String(),
		AvgEntryPrice: pos.AvgEntryPrice.String(),
		RealizedPnL:   pos.RealizedPnL.String(),
		UpdatedAt:     time.Now().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "symbol"}}, UpdateAll: true}).
		Create(&row).Error
}

// NonTerminalOrders lists orders that were unresolved at shutdown.
func (s *Store) NonTerminalOrders(ctx context.Context) ([]OrderRow, error) {
	if s == nil {
		return nil, exception.ErrLedgerStoreUnset
	}
	var rows []OrderRow
	err := s.db.WithContext(ctx).
		Where("state NOT IN ?", []uint16{
			uint16(schema.OrderStateFilled),
			uint16(schema.OrderStateCanceled),
			uint16(schema.OrderStateRejected),
		}).
		Order("submitted_at").
		Find(&rows).Error
	return rows, err
}
