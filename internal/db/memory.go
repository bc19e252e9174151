package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/outbox"
)

// MemoryProductRepository keeps products in a map guarded by one mutex, so
// every check-and-act stock change is atomic.
type MemoryProductRepository struct {
	mu       sync.Mutex
	products map[int64]models.Product
	nextID   int64
}

func NewMemoryProductRepository() *MemoryProductRepository {
	return &MemoryProductRepository{products: make(map[int64]models.Product)}
}

// Seed stores products as given, keeping their ids.
func (r *MemoryProductRepository) Seed(products ...models.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range products {
		r.products[p.ID] = p
		if p.ID > r.nextID {
			r.nextID = p.ID
		}
	}
}

func (r *MemoryProductRepository) GetAll(ctx context.Context) ([]models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	products := make([]models.Product, 0, len(r.products))
	for _, p := range r.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (r *MemoryProductRepository) FindByID(ctx context.Context, id int64) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, apperr.NotFound("product %d not found", id)
	}
	return &p, nil
}

func (r *MemoryProductRepository) Create(ctx context.Context, req models.CreateProductRequest) (*models.Product, error) {
	p, err := models.NewProduct(req)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Now().UTC()
	p.ID = r.nextID
	p.CreatedAt = now
	p.UpdatedAt = now
	r.products[p.ID] = *p
	return p, nil
}

func (r *MemoryProductRepository) Save(ctx context.Context, p *models.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID]; !ok {
		return apperr.NotFound("product %d not found", p.ID)
	}
	p.UpdatedAt = time.Now().UTC()
	r.products[p.ID] = *p
	return nil
}

func (r *MemoryProductRepository) ReserveStock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	return r.mutate(id, func(p *models.Product) error {
		return p.ReduceStock(quantity)
	})
}

func (r *MemoryProductRepository) ReleaseStock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	return r.mutate(id, func(p *models.Product) error {
		return p.IncreaseStock(quantity)
	})
}

func (r *MemoryProductRepository) DeductStock(ctx context.Context, id int64, quantity int) (models.StockChange, error) {
	change := models.StockChange{ProductID: id}
	_, err := r.mutate(id, func(p *models.Product) error {
		change.PreviousStock = p.Quantity
		p.Quantity -= quantity
		change.NewStock = p.Quantity
		return nil
	})
	return change, err
}

func (r *MemoryProductRepository) mutate(id int64, fn func(p *models.Product) error) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, apperr.NotFound("product %d not found", id)
	}
	if err := fn(&p); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now().UTC()
	r.products[id] = p
	return &p, nil
}

func (r *MemoryProductRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return apperr.NotFound("product %d not found", id)
	}
	delete(r.products, id)
	return nil
}

// MemoryOrderRepository stores orders and their outbox records.
type MemoryOrderRepository struct {
	mu         sync.Mutex
	orders     map[int64]*models.Order
	nextID     int64
	nextItemID int64
	outbox     []outbox.Record
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[int64]*models.Order)}
}

func (r *MemoryOrderRepository) Save(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(order)
}

func (r *MemoryOrderRepository) save(order *models.Order) error {
	if order.ID == 0 {
		r.nextID++
		order.ID = r.nextID
		for i := range order.Items {
			r.nextItemID++
			order.Items[i].ID = r.nextItemID
			order.Items[i].OrderID = order.ID
		}
	} else if stored, ok := r.orders[order.ID]; !ok {
		return apperr.NotFound("order %d not found", order.ID)
	} else if stored.Status != models.OrderStatusPending {
		return apperr.InvalidState("order %d is already %s", order.ID, stored.Status)
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryOrderRepository) SaveWithOutbox(ctx context.Context, order *models.Order, rec outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.save(order); err != nil {
		return err
	}
	rec.ID = int64(len(r.outbox) + 1)
	r.outbox = append(r.outbox, rec)
	return nil
}

func (r *MemoryOrderRepository) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %d not found", id)
	}
	return o.Clone(), nil
}

// List returns orders newest first
func (r *MemoryOrderRepository) List(ctx context.Context) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders := make([]models.Order, 0, len(r.orders))
	for _, o := range r.orders {
		orders = append(orders, *o.Clone())
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (r *MemoryOrderRepository) FetchPending(ctx context.Context, limit int) ([]outbox.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []outbox.Record
	for _, rec := range r.outbox {
		if rec.SentAt != nil {
			continue
		}
		pending = append(pending, rec)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (r *MemoryOrderRepository) MarkSent(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.outbox {
		if r.outbox[i].ID == id {
			now := time.Now().UTC()
			r.outbox[i].SentAt = &now
			return nil
		}
	}
	return apperr.NotFound("outbox record %d not found", id)
}

// MemoryDeadLetterStore keeps letters in arrival order.
type MemoryDeadLetterStore struct {
	mu      sync.Mutex
	letters []models.DeadLetter
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{}
}

func (s *MemoryDeadLetterStore) Record(ctx context.Context, letter models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.letters {
		if l.Event.EventID == letter.Event.EventID {
			return nil
		}
	}
	s.letters = append(s.letters, letter)
	return nil
}

func (s *MemoryDeadLetterStore) UpdateStatus(ctx context.Context, eventID string, status models.DeadLetterStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.letters {
		if s.letters[i].Event.EventID == eventID {
			s.letters[i].Status = status
			s.letters[i].Note = note
			s.letters[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return apperr.NotFound("dead letter %s not found", eventID)
}

// List returns letters newest first
func (s *MemoryDeadLetterStore) List(ctx context.Context) ([]models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DeadLetter, 0, len(s.letters))
	for i := len(s.letters) - 1; i >= 0; i-- {
		out = append(out, s.letters[i])
	}
	return out, nil
}
