package domain

import "time"

// Windows are the trailing windows, in days, of every rolling statistic.
var Windows = []int{30, 60, 90}

// MaxWindow is the longest window in Windows.
const MaxWindow = 90

// DailyKey uniquely identifies a DailyStat row.
type DailyKey struct {
	ProductID   int64
	WarehouseID int64
	Date        time.Time
	RecordType  RecordType
}

// Pair returns the product/warehouse pair of the key.
func (k DailyKey) Pair() Pair {
	return Pair{ProductID: k.ProductID, WarehouseID: k.WarehouseID}
}

// DailyStat is the per-day total of one product, warehouse and record type.
type DailyStat struct {
	DailyKey
	QuantityTotal float64   `json:"quantity_total"`
	EventCount    int64     `json:"event_count"`
	FirstEventAt  time.Time `json:"first_event_at"`
	LastEventAt   time.Time `json:"last_event_at"`
	LastUpdated   time.Time `json:"last_updated"`
}

// CalculationSource records what triggered a rolling recompute.
type CalculationSource string

const (
	SourceQueue      CalculationSource = "queue"
	SourceFullRecalc CalculationSource = "full_recalc"
	SourceMigration  CalculationSource = "migration"
)

// Valid reports whether s is a known source.
func (s CalculationSource) Valid() bool {
	return s == SourceQueue || s == SourceFullRecalc || s == SourceMigration
}

// WindowStats are the statistics of one trailing window.
type WindowStats struct {
	Days             int     `json:"days"`
	Mean             float64 `json:"mean"`
	StdDev           float64 `json:"stddev"`
	CV               float64 `json:"cv"`
	TotalQty         float64 `json:"total_qty"`
	DaysWithActivity int     `json:"days_with_activity"`
}

// RollingKey uniquely identifies a RollingStat.
type RollingKey struct {
	ProductID   int64      `json:"product_id"`
	WarehouseID int64      `json:"warehouse_id"`
	RecordType  RecordType `json:"record_type"`
}

// RollingStat holds 30/60/90-day statistics for one key. It is replaced as a
// whole on every recompute.
type RollingStat struct {
	RollingKey
	Windows           map[int]WindowStats `json:"windows"`
	LastCalculated    time.Time           `json:"last_calculated"`
	CalculationSource CalculationSource   `json:"calculation_source"`
}

// Window returns the statistics of the given window.
func (r RollingStat) Window(days int) (WindowStats, bool) {
	w, ok := r.Windows[days]
	return w, ok
}

// ValidWindow reports whether days is one of Windows.
func ValidWindow(days int) bool {
	for _, w := range Windows {
		if w == days {
			return true
		}
	}
	return false
}

// Orderpoint is the replenishment rule of one product at one warehouse.
type Orderpoint struct {
	ProductID     int64     `json:"product_id"`
	WarehouseID   int64     `json:"warehouse_id"`
	LocationID    int64     `json:"location_id"`
	ProductMaxQty float64   `json:"product_max_qty"`
	ProductMinQty float64   `json:"product_min_qty"`
	PointReorder  float64   `json:"point_reorder"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Pair returns the product/warehouse pair of the orderpoint.
func (o Orderpoint) Pair() Pair {
	return Pair{ProductID: o.ProductID, WarehouseID: o.WarehouseID}
}
