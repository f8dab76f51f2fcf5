package handlers

import (
	"context"
	"database/sql"
	"log"
	"sync"

	"github.com/triadarena/backend/internal/config"
	"github.com/triadarena/backend/internal/game"
	"github.com/triadarena/backend/internal/identity"
	"github.com/triadarena/backend/internal/models"
	"github.com/triadarena/backend/internal/ws"
)

// UserStore is the durable user directory. Nil when running without a database.
type UserStore interface {
	UpsertUser(ctx context.Context, u models.User) (models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
	LinkNearAccount(ctx context.Context, id int64, account string) error
	ActiveDeck(ctx context.Context, id int64) ([]game.AssetRef, error)
	SaveActiveDeck(ctx context.Context, id int64, deck []game.AssetRef) error
}

// AssetDirectory lists an account's assets and confirms deck ownership
type AssetDirectory interface {
	ListOwnedAssets(ctx context.Context, account string) ([]game.AssetRef, error)
	CheckOwnership(ctx context.Context, account string, deck []game.AssetRef) error
}

// Deps carries everything the handlers need
type Deps struct {
	Config     *config.Config
	Manager    *game.Manager
	Queue      *game.Queue
	Hub        *ws.Hub
	Dispatcher *ws.Dispatcher
	Tokens     *identity.Tokens
	Telegram   *identity.TelegramVerifier
	Users      UserStore
	Assets     AssetDirectory

	known *userCache
}

// userCache remembers users seen by this process so identity and linked
// accounts keep working while the user directory is unavailable
type userCache struct {
	mu    sync.RWMutex
	users map[int64]models.User
	decks map[int64][]game.AssetRef
}

func (d *Deps) cache() *userCache {
	return d.known
}

func (u *userCache) get(id int64) (models.User, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	v, ok := u.users[id]
	return v, ok
}

func (u *userCache) put(v models.User) {
	u.mu.Lock()
	u.users[v.ID] = v
	u.mu.Unlock()
}

func (u *userCache) deck(id int64) []game.AssetRef {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.decks[id]
}

func (u *userCache) putDeck(id int64, deck []game.AssetRef) {
	u.mu.Lock()
	u.decks[id] = append([]game.AssetRef(nil), deck...)
	u.mu.Unlock()
}

// Init prepares internal state; call once before serving
func (d *Deps) Init() *Deps {
	if d.known == nil {
		d.known = &userCache{
			users: make(map[int64]models.User),
			decks: make(map[int64][]game.AssetRef),
		}
	}
	return d
}

// lookupUser returns the stored user, falling back to the process cache and
// finally to a fresh default-rated user
func (d *Deps) lookupUser(ctx context.Context, id int64) models.User {
	if d.Users != nil {
		if u, err := d.Users.GetUser(ctx, id); err == nil {
			d.cache().put(u)
			return u
		}
	}
	if u, ok := d.cache().get(id); ok {
		return u
	}
	return models.User{ID: id, EloRating: d.Config.DefaultRating}
}

// activeDeck returns the user's saved deck from the store, or from the process
// cache when the store is unavailable
func (d *Deps) activeDeck(ctx context.Context, id int64) []game.AssetRef {
	if d.Users != nil {
		deck, err := d.Users.ActiveDeck(ctx, id)
		if err == nil {
			d.cache().putDeck(id, deck)
			return deck
		}
		log.Printf("[DECK] Failed to load active deck for %d: %v", id, err)
	}
	return d.cache().deck(id)
}

// rememberAccount records a linked NEAR account in the process cache
func (d *Deps) rememberAccount(ctx context.Context, id int64, account string) {
	u := d.lookupUser(ctx, id)
	u.NearAccountID = sql.NullString{String: account, Valid: true}
	d.cache().put(u)
}

// participant builds the match participant for a user
func participant(u models.User) game.Participant {
	return game.Participant{
		ID:         u.ID,
		Username:   u.Username.String,
		AccountRef: u.NearAccountID.String,
	}
}
