package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ukydev/fleet-workorders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is an in-process Store used for local runs and tests.
// Transactions are serialized by a single mutex and roll back by restoring a
// snapshot of the whole state.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	workOrders map[primitive.ObjectID]models.WorkOrder
	partUsages []models.PartUsage
	assets     map[primitive.ObjectID]models.Asset
	schedules  map[primitive.ObjectID]models.MaintenanceSchedule
	spareParts map[primitive.ObjectID]models.SparePart
	history    []models.AssetHistory
	users      map[primitive.ObjectID]models.User
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		workOrders: map[primitive.ObjectID]models.WorkOrder{},
		assets:     map[primitive.ObjectID]models.Asset{},
		schedules:  map[primitive.ObjectID]models.MaintenanceSchedule{},
		spareParts: map[primitive.ObjectID]models.SparePart{},
		users:      map[primitive.ObjectID]models.User{},
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		workOrders: make(map[primitive.ObjectID]models.WorkOrder, len(s.workOrders)),
		partUsages: append([]models.PartUsage(nil), s.partUsages...),
		assets:     make(map[primitive.ObjectID]models.Asset, len(s.assets)),
		schedules:  make(map[primitive.ObjectID]models.MaintenanceSchedule, len(s.schedules)),
		spareParts: make(map[primitive.ObjectID]models.SparePart, len(s.spareParts)),
		history:    append([]models.AssetHistory(nil), s.history...),
		users:      make(map[primitive.ObjectID]models.User, len(s.users)),
	}
	for k, v := range s.workOrders {
		c.workOrders[k] = v
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.schedules {
		c.schedules[k] = v
	}
	for k, v := range s.spareParts {
		c.spareParts[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

func (m *MemoryStore) view() *memView { return &memView{store: m} }

func (m *MemoryStore) WorkOrders() WorkOrderCollection { return m.view() }
func (m *MemoryStore) PartUsages() PartUsageCollection { return m.view() }
func (m *MemoryStore) Assets() AssetCollection         { return m.view() }
func (m *MemoryStore) Schedules() ScheduleCollection   { return m.view() }
func (m *MemoryStore) SpareParts() SparePartCollection { return m.view() }
func (m *MemoryStore) History() HistoryCollection      { return m.view() }
func (m *MemoryStore) Users() UserCollection           { return m.view() }

// WithTransaction holds the store lock for the duration of fn.
func (m *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Collections) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(ctx, &memView{store: m, inTx: true}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close(context.Context) error { return nil }

// memView implements every collection interface over the store state. Views
// handed out inside a transaction run under the transaction's lock.
type memView struct {
	store *MemoryStore
	inTx  bool
}

func (v *memView) WorkOrders() WorkOrderCollection { return v }
func (v *memView) PartUsages() PartUsageCollection { return v }
func (v *memView) Assets() AssetCollection         { return v }
func (v *memView) Schedules() ScheduleCollection   { return v }
func (v *memView) SpareParts() SparePartCollection { return v }
func (v *memView) History() HistoryCollection      { return v }
func (v *memView) Users() UserCollection           { return v }

func (v *memView) lock() func() {
	if v.inTx {
		return func() {}
	}
	v.store.mu.Lock()
	return v.store.mu.Unlock
}

func (v *memView) st() *memState { return v.store.state }

func pageBounds(n int, skip, limit int64) (int, int) {
	start := int(skip)
	if start > n {
		start = n
	}
	end := n
	if limit > 0 && start+int(limit) < n {
		end = start + int(limit)
	}
	return start, end
}

func (v *memView) InsertWorkOrder(_ context.Context, wo *models.WorkOrder) error {
	defer v.lock()()
	if wo.ID.IsZero() {
		wo.ID = primitive.NewObjectID()
	}
	v.st().workOrders[wo.ID] = *wo
	return nil
}

func (v *memView) FindWorkOrderByID(_ context.Context, id primitive.ObjectID) (*models.WorkOrder, error) {
	defer v.lock()()
	wo, ok := v.st().workOrders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &wo, nil
}

func (v *memView) FindWorkOrders(_ context.Context, filter models.WorkOrderFilter, skip, limit int64) ([]models.WorkOrder, int64, error) {
	defer v.lock()()
	matched := []models.WorkOrder{}
	for _, wo := range v.st().workOrders {
		if filter.Status != "" && wo.Status != filter.Status {
			continue
		}
		if filter.AssetID != nil && wo.AssetID != *filter.AssetID {
			continue
		}
		matched = append(matched, wo)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.Hex() > matched[j].ID.Hex()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start, end := pageBounds(len(matched), skip, limit)
	return matched[start:end], int64(len(matched)), nil
}

func (v *memView) UpdateWorkOrder(_ context.Context, wo *models.WorkOrder, expected models.WorkOrderStatus) error {
	defer v.lock()()
	current, ok := v.st().workOrders[wo.ID]
	if !ok || current.Status != expected {
		return ErrStatusMismatch
	}
	v.st().workOrders[wo.ID] = *wo
	return nil
}

func (v *memView) InsertPartUsage(_ context.Context, usage *models.PartUsage) error {
	defer v.lock()()
	if usage.ID.IsZero() {
		usage.ID = primitive.NewObjectID()
	}
	v.st().partUsages = append(v.st().partUsages, *usage)
	return nil
}

func (v *memView) FindPartUsagesByWorkOrder(_ context.Context, workOrderID primitive.ObjectID) ([]models.PartUsage, error) {
	defer v.lock()()
	usages := []models.PartUsage{}
	for _, u := range v.st().partUsages {
		if u.WorkOrderID == workOrderID {
			usages = append(usages, u)
		}
	}
	return usages, nil
}

func (v *memView) InsertAsset(_ context.Context, asset *models.Asset) error {
	defer v.lock()()
	for _, a := range v.st().assets {
		if a.Code == asset.Code {
			return ErrDuplicate
		}
	}
	if asset.ID.IsZero() {
		asset.ID = primitive.NewObjectID()
	}
	v.st().assets[asset.ID] = *asset
	return nil
}

func (v *memView) FindAssetByID(_ context.Context, id primitive.ObjectID) (*models.Asset, error) {
	defer v.lock()()
	asset, ok := v.st().assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &asset, nil
}

func (v *memView) FindAssets(_ context.Context, skip, limit int64) ([]models.Asset, int64, error) {
	defer v.lock()()
	items := make([]models.Asset, 0, len(v.st().assets))
	for _, a := range v.st().assets {
		items = append(items, a)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	start, end := pageBounds(len(items), skip, limit)
	return items[start:end], int64(len(items)), nil
}

func (v *memView) UpdateAssetStatus(_ context.Context, id primitive.ObjectID, status models.AssetStatus) error {
	defer v.lock()()
	asset, ok := v.st().assets[id]
	if !ok {
		return ErrNotFound
	}
	asset.Status = status
	asset.UpdatedAt = time.Now()
	v.st().assets[id] = asset
	return nil
}

func (v *memView) InsertSchedule(_ context.Context, schedule *models.MaintenanceSchedule) error {
	defer v.lock()()
	if schedule.ID.IsZero() {
		schedule.ID = primitive.NewObjectID()
	}
	v.st().schedules[schedule.ID] = *schedule
	return nil
}

func (v *memView) FindScheduleByID(_ context.Context, id primitive.ObjectID) (*models.MaintenanceSchedule, error) {
	defer v.lock()()
	schedule, ok := v.st().schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &schedule, nil
}

func (v *memView) UpdateScheduleDue(_ context.Context, id primitive.ObjectID, lastPerformedAt time.Time, nextDueAt *time.Time) error {
	defer v.lock()()
	schedule, ok := v.st().schedules[id]
	if !ok {
		return ErrNotFound
	}
	schedule.LastPerformedAt = &lastPerformedAt
	if nextDueAt != nil {
		next := *nextDueAt
		schedule.NextDueAt = &next
	}
	schedule.UpdatedAt = time.Now()
	v.st().schedules[id] = schedule
	return nil
}

func (v *memView) InsertSparePart(_ context.Context, part *models.SparePart) error {
	defer v.lock()()
	for _, p := range v.st().spareParts {
		if p.PartNumber == part.PartNumber {
			return ErrDuplicate
		}
	}
	if part.ID.IsZero() {
		part.ID = primitive.NewObjectID()
	}
	v.st().spareParts[part.ID] = *part
	return nil
}

func (v *memView) FindSparePartByID(_ context.Context, id primitive.ObjectID) (*models.SparePart, error) {
	defer v.lock()()
	part, ok := v.st().spareParts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &part, nil
}

func (v *memView) FindSpareParts(_ context.Context, skip, limit int64) ([]models.SparePart, int64, error) {
	defer v.lock()()
	items := make([]models.SparePart, 0, len(v.st().spareParts))
	for _, p := range v.st().spareParts {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	start, end := pageBounds(len(items), skip, limit)
	return items[start:end], int64(len(items)), nil
}

func (v *memView) UpdateSparePart(_ context.Context, part *models.SparePart) error {
	defer v.lock()()
	current, ok := v.st().spareParts[part.ID]
	if !ok {
		return ErrNotFound
	}
	current.Name = part.Name
	current.UnitCost = part.UnitCost
	current.QuantityOnHand = part.QuantityOnHand
	current.UpdatedAt = time.Now()
	v.st().spareParts[part.ID] = current
	return nil
}

func (v *memView) DecrementStock(_ context.Context, id primitive.ObjectID, qty decimal.Decimal) error {
	defer v.lock()()
	part, ok := v.st().spareParts[id]
	if !ok {
		return ErrNotFound
	}
	if part.QuantityOnHand.LessThan(qty) {
		return ErrInsufficientStock
	}
	part.QuantityOnHand = part.QuantityOnHand.Sub(qty)
	part.UpdatedAt = time.Now()
	v.st().spareParts[id] = part
	return nil
}

func (v *memView) AppendHistory(_ context.Context, entry *models.AssetHistory) error {
	defer v.lock()()
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	v.st().history = append(v.st().history, *entry)
	return nil
}

func (v *memView) FindHistoryByAsset(_ context.Context, assetID primitive.ObjectID, skip, limit int64) ([]models.AssetHistory, int64, error) {
	defer v.lock()()
	items := []models.AssetHistory{}
	h := v.st().history
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].AssetID == assetID {
			items = append(items, h[i])
		}
	}
	start, end := pageBounds(len(items), skip, limit)
	return items[start:end], int64(len(items)), nil
}

func (v *memView) InsertUser(_ context.Context, user *models.User) error {
	defer v.lock()()
	for _, u := range v.st().users {
		if u.Username == user.Username || u.Email == user.Email {
			return ErrDuplicate
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true
	v.st().users[user.ID] = *user
	return nil
}

func (v *memView) FindUserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	defer v.lock()()
	user, ok := v.st().users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (v *memView) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	return v.findUser(func(u models.User) bool { return u.Username == username })
}

func (v *memView) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	return v.findUser(func(u models.User) bool { return u.Email == email })
}

func (v *memView) findUser(match func(models.User) bool) (*models.User, error) {
	defer v.lock()()
	for _, u := range v.st().users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (v *memView) UpdateLastLogin(_ context.Context, id primitive.ObjectID) error {
	defer v.lock()()
	user, ok := v.st().users[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	user.LastLogin = &now
	user.UpdatedAt = now
	v.st().users[id] = user
	return nil
}
