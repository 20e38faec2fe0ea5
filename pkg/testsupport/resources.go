package testsupport

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-campus-client/domain"
)

func (f *FakeBackend) listEvents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Event, 0, len(f.events))
	for _, id := range sortedKeys(f.events) {
		out = append(out, f.events[id])
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeBackend) createEvent(w http.ResponseWriter, r *http.Request) {
	var in domain.Event
	if !readJSON(w, r, &in) {
		return
	}
	if in.Title == "" || in.Date == "" {
		writeError(w, http.StatusBadRequest, "title and date are required")
		return
	}
	uid := current(r).user.ID
	f.mu.Lock()
	f.nextID++
	in.ID = f.nextID
	in.UserID = &uid
	f.events[in.ID] = in
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, in)
}

func (f *FakeBackend) updateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch domain.Event
	if !readJSON(w, r, &patch) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, found := f.events[id]
	if !found {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	ev.Title = pick(patch.Title, ev.Title)
	ev.Description = pick(patch.Description, ev.Description)
	ev.Date = pick(patch.Date, ev.Date)
	ev.Place = pick(patch.Place, ev.Place)
	f.events[id] = ev
	writeJSON(w, http.StatusOK, ev)
}

func (f *FakeBackend) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, found := f.events[id]; !found {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	delete(f.events, id)
	writeJSON(w, http.StatusOK, domain.MessageResponse{Message: "event deleted"})
}

func (f *FakeBackend) listClubs(w http.ResponseWriter, r *http.Request) {
	f.writeClubs(w, func(*domain.Club) bool { return true })
}

func (f *FakeBackend) myClubs(w http.ResponseWriter, r *http.Request) {
	uid := current(r).user.ID
	f.writeClubs(w, func(c *domain.Club) bool { return c.IsMember(uid) })
}

func (f *FakeBackend) writeClubs(w http.ResponseWriter, keep func(*domain.Club) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Club{}
	for _, id := range sortedKeys(f.clubs) {
		if c := f.clubs[id]; keep(c) {
			out = append(out, *c)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeBackend) getClub(w http.ResponseWriter, r *http.Request) {
	f.withClub(w, r, func(c *domain.Club) {
		out := *c
		out.Announcements = append([]domain.Announcement{}, f.announcements[c.ID]...)
		writeJSON(w, http.StatusOK, out)
	})
}

func (f *FakeBackend) createClub(w http.ResponseWriter, r *http.Request) {
	var in domain.Club
	if !readJSON(w, r, &in) {
		return
	}
	if in.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	f.mu.Lock()
	f.nextID++
	c := &domain.Club{
		ID:          f.nextID,
		Name:        in.Name,
		Description: in.Description,
		AdminID:     current(r).user.ID,
		StudentIDs:  []int64{},
		PendingIDs:  []int64{},
	}
	f.clubs[c.ID] = c
	out := *c
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, out)
}

func (f *FakeBackend) updateClub(w http.ResponseWriter, r *http.Request) {
	var patch domain.Club
	if !readJSON(w, r, &patch) {
		return
	}
	f.withAdminClub(w, r, func(c *domain.Club) {
		c.Name = pick(patch.Name, c.Name)
		if patch.Description != nil {
			c.Description = patch.Description
		}
		writeJSON(w, http.StatusOK, *c)
	})
}

func (f *FakeBackend) deleteClub(w http.ResponseWriter, r *http.Request) {
	f.withAdminClub(w, r, func(c *domain.Club) {
		delete(f.clubs, c.ID)
		delete(f.announcements, c.ID)
		delete(f.messages, c.ID)
		writeJSON(w, http.StatusOK, domain.MessageResponse{Message: "club deleted"})
	})
}

func (f *FakeBackend) joinClub(w http.ResponseWriter, r *http.Request) {
	uid := current(r).user.ID
	f.withClub(w, r, func(c *domain.Club) {
		if c.IsMember(uid) {
			writeError(w, http.StatusConflict, "already a member")
			return
		}
		if !c.IsPending(uid) {
			c.PendingIDs = append(c.PendingIDs, uid)
		}
		writeJSON(w, http.StatusOK, domain.JoinResult{Message: "join requested", Club: *c})
	})
}

func (f *FakeBackend) approveJoin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64 `json:"userId"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	f.withAdminClub(w, r, func(c *domain.Club) {
		if !c.IsPending(body.UserID) {
			writeError(w, http.StatusNotFound, "no pending request")
			return
		}
		pending := c.PendingIDs[:0]
		for _, id := range c.PendingIDs {
			if id != body.UserID {
				pending = append(pending, id)
			}
		}
		c.PendingIDs = pending
		c.StudentIDs = append(c.StudentIDs, body.UserID)
		writeJSON(w, http.StatusOK, domain.JoinResult{Message: "approved", Club: *c})
	})
}

func (f *FakeBackend) listAnnouncements(w http.ResponseWriter, r *http.Request) {
	f.withClub(w, r, func(c *domain.Club) {
		writeJSON(w, http.StatusOK, append([]domain.Announcement{}, f.announcements[c.ID]...))
	})
}

func (f *FakeBackend) postAnnouncement(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	author := current(r).user
	f.withAdminClub(w, r, func(c *domain.Club) {
		f.nextID++
		a := domain.Announcement{ID: f.nextID, ClubID: c.ID, UserID: author.ID, Content: body.Content, Author: &author}
		f.announcements[c.ID] = append(f.announcements[c.ID], a)
		writeJSON(w, http.StatusCreated, a)
	})
}

func (f *FakeBackend) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, _ := strconv.ParseInt(q.Get("sinceId"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	uid := current(r).user.ID
	f.withClub(w, r, func(c *domain.Club) {
		if !c.IsMember(uid) {
			writeError(w, http.StatusForbidden, "not a member")
			return
		}
		out := []domain.ClubMessage{}
		for _, m := range f.messages[c.ID] {
			if m.ID > since {
				out = append(out, m)
			}
		}
		if limit > 0 && len(out) > limit {
			out = out[len(out)-limit:]
		}
		writeJSON(w, http.StatusOK, out)
	})
}

func (f *FakeBackend) postMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	author := current(r).user
	f.withClub(w, r, func(c *domain.Club) {
		if !c.IsMember(author.ID) {
			writeError(w, http.StatusForbidden, "not a member")
			return
		}
		f.nextID++
		m := domain.ClubMessage{
			ID:        f.nextID,
			ClubID:    c.ID,
			UserID:    author.ID,
			Content:   body.Content,
			Author:    &author,
			CreatedAt: f.now().UTC().Format("2006-01-02T15:04:05.000Z"),
		}
		f.messages[c.ID] = append(f.messages[c.ID], m)
		writeJSON(w, http.StatusCreated, m)
	})
}

func (f *FakeBackend) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	out := []domain.MarketplaceItem{}
	for _, id := range sortedKeys(f.items) {
		if it := f.items[id]; matchItem(it, q.Get) {
			out = append(out, it)
		}
	}
	f.mu.Unlock()

	if field, dir, ok := strings.Cut(q.Get("sort"), ":"); ok && field == "price" {
		sort.SliceStable(out, func(i, j int) bool {
			if dir == "desc" {
				return out[i].Price > out[j].Price
			}
			return out[i].Price < out[j].Price
		})
	}
	if limit, _ := strconv.Atoi(q.Get("limit")); limit > 0 {
		page, _ := strconv.Atoi(q.Get("page"))
		if page < 1 {
			page = 1
		}
		start := min((page-1)*limit, len(out))
		out = out[start:min(start+limit, len(out))]
	}
	writeJSON(w, http.StatusOK, out)
}

func matchItem(it domain.MarketplaceItem, get func(string) string) bool {
	if s := get("status"); s != "" && string(it.Status) != s {
		return false
	}
	if c := get("category"); c != "" && (it.Category == nil || *it.Category != c) {
		return false
	}
	if s := get("q"); s != "" && !strings.Contains(strings.ToLower(it.Title), strings.ToLower(s)) {
		return false
	}
	if v, err := strconv.ParseFloat(get("minPrice"), 64); err == nil && it.Price < v {
		return false
	}
	if v, err := strconv.ParseFloat(get("maxPrice"), 64); err == nil && it.Price > v {
		return false
	}
	if v, err := strconv.ParseInt(get("userId"), 10, 64); err == nil && it.UserID != v {
		return false
	}
	return true
}

func (f *FakeBackend) getItem(w http.ResponseWriter, r *http.Request) {
	f.withItem(w, r, false, func(it *domain.MarketplaceItem) {
		writeJSON(w, http.StatusOK, *it)
	})
}

func (f *FakeBackend) createItem(w http.ResponseWriter, r *http.Request) {
	var in domain.MarketplaceItem
	if !readJSON(w, r, &in) {
		return
	}
	if in.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if in.Status == "" {
		in.Status = domain.ItemAvailable
	}
	f.mu.Lock()
	f.nextID++
	in.ID = f.nextID
	in.UserID = current(r).user.ID
	f.items[in.ID] = in
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, in)
}

func (f *FakeBackend) updateItem(w http.ResponseWriter, r *http.Request) {
	var patch struct {
		Title       *string            `json:"title"`
		Description *string            `json:"description"`
		Price       *float64           `json:"price"`
		Category    *string            `json:"category"`
		Status      *domain.ItemStatus `json:"status"`
	}
	if !readJSON(w, r, &patch) {
		return
	}
	f.withItem(w, r, true, func(it *domain.MarketplaceItem) {
		if patch.Title != nil {
			it.Title = *patch.Title
		}
		if patch.Description != nil {
			it.Description = patch.Description
		}
		if patch.Price != nil {
			it.Price = *patch.Price
		}
		if patch.Category != nil {
			it.Category = patch.Category
		}
		if patch.Status != nil {
			it.Status = *patch.Status
		}
		f.items[it.ID] = *it
		writeJSON(w, http.StatusOK, *it)
	})
}

func (f *FakeBackend) deleteItem(w http.ResponseWriter, r *http.Request) {
	f.withItem(w, r, true, func(it *domain.MarketplaceItem) {
		delete(f.items, it.ID)
		writeJSON(w, http.StatusOK, domain.MessageResponse{Message: "item deleted"})
	})
}

// withClub runs fn with the club named by the path while holding the lock.
func (f *FakeBackend) withClub(w http.ResponseWriter, r *http.Request, fn func(*domain.Club)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, found := f.clubs[id]
	if !found {
		writeError(w, http.StatusNotFound, "club not found")
		return
	}
	fn(c)
}

func (f *FakeBackend) withAdminClub(w http.ResponseWriter, r *http.Request, fn func(*domain.Club)) {
	u := current(r).user
	f.withClub(w, r, func(c *domain.Club) {
		if c.AdminID != u.ID && !u.IsAdmin() {
			writeError(w, http.StatusForbidden, "club admin only")
			return
		}
		fn(c)
	})
}

func (f *FakeBackend) withItem(w http.ResponseWriter, r *http.Request, owner bool, fn func(*domain.MarketplaceItem)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u := current(r).user
	f.mu.Lock()
	defer f.mu.Unlock()
	it, found := f.items[id]
	if !found {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if owner && it.UserID != u.ID && !u.IsAdmin() {
		writeError(w, http.StatusForbidden, "not the seller")
		return
	}
	fn(&it)
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
