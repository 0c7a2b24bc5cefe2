package handbook

import (
	"strings"
	"time"
)

// ============================================================================
// Entities
// ============================================================================

type User struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
	IsOnline  bool   `json:"isOnline,omitempty"`
}

type Post struct {
	ID        string    `json:"_id"`
	AuthorID  string    `json:"author"`
	GroupID   string    `json:"group,omitempty"`
	Content   string    `json:"content"`
	Images    []string  `json:"images,omitempty"`
	Loves     []string  `json:"loves,omitempty"`
	Shares    int       `json:"shares,omitempty"`
	Comments  int       `json:"comments,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Comment struct {
	ID        string    `json:"_id"`
	PostID    string    `json:"post"`
	ParentID  string    `json:"replyComment,omitempty"`
	AuthorID  string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversation"`
	SenderID       string    `json:"sender"`
	Text           string    `json:"text"`
	Images         []string  `json:"images,omitempty"`
	IsPinned       bool      `json:"isPin"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Local reports whether the message is an optimistic placeholder that the
// server has not confirmed yet.
func (m Message) Local() bool {
	return strings.HasPrefix(m.ID, localIDPrefix)
}

type Conversation struct {
	ID           string   `json:"_id"`
	Title        string   `json:"title,omitempty"`
	Participants []string `json:"participants"`
	GroupID      string   `json:"group,omitempty"`
	LastMessage  *Message `json:"lastMessage"`
}

type Group struct {
	ID          string   `json:"_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members,omitempty"`
	Type        string   `json:"type,omitempty"`
}

type Notification struct {
	ID         string    `json:"_id"`
	Type       string    `json:"type"`
	SenderID   string    `json:"sender"`
	ReceiverID string    `json:"receiver"`
	Message    string    `json:"message"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
}

type FriendRequest struct {
	ID         string `json:"_id"`
	SenderID   string `json:"sender"`
	ReceiverID string `json:"receiver"`
	Status     string `json:"status"`
}

type Category struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Location struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Item struct {
	ID         string   `json:"_id"`
	Name       string   `json:"name"`
	SellerID   string   `json:"seller"`
	CategoryID string   `json:"category"`
	LocationID string   `json:"location"`
	Price      float64  `json:"price"`
	Images     []string `json:"images,omitempty"`
}

// ============================================================================
// Pagination
// ============================================================================

// Paginated is a cached collection built by infinite scrolling: an ordered
// list of pages with the page parameter used to fetch each of them.
// Newest entries come first.
type Paginated[T any] struct {
	Pages      [][]T `json:"pages"`
	PageParams []int `json:"pageParams"`
}

// Flatten returns all entries across pages in order.
func (p Paginated[T]) Flatten() []T {
	var out []T
	for _, page := range p.Pages {
		out = append(out, page...)
	}
	return out
}

// Len returns the total number of entries.
func (p Paginated[T]) Len() int {
	n := 0
	for _, page := range p.Pages {
		n += len(page)
	}
	return n
}

// NextPageParam returns the parameter of the page after the last one.
func (p Paginated[T]) NextPageParam() int {
	if len(p.PageParams) == 0 {
		return 1
	}
	return p.PageParams[len(p.PageParams)-1] + 1
}

// identified is implemented by records that carry a backend id. Paged
// collections of such records never hold the same id twice.
type identified interface {
	entityID() string
}

func (u User) entityID() string          { return u.ID }
func (p Post) entityID() string          { return p.ID }
func (c Comment) entityID() string       { return c.ID }
func (m Message) entityID() string       { return m.ID }
func (c Conversation) entityID() string  { return c.ID }
func (g Group) entityID() string         { return g.ID }
func (n Notification) entityID() string  { return n.ID }
func (r FriendRequest) entityID() string { return r.ID }
func (c Category) entityID() string      { return c.ID }
func (l Location) entityID() string      { return l.ID }
func (i Item) entityID() string          { return i.ID }

// PageResult is a single page returned by the backend.
type PageResult[T any] struct {
	Items   []T  `json:"data"`
	HasMore bool `json:"hasNextPage"`
}
