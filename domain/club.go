package domain

// Club is a club directory entry. StudentIDs and PendingIDs are disjoint in a
// well-formed response; the client does not enforce it.
type Club struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	AdminID     int64   `json:"admin_id"`
	StudentIDs  []int64 `json:"student_ids"`
	PendingIDs  []int64 `json:"pending_ids"`

	// Announcements is only populated by the single-club endpoint.
	Announcements []Announcement `json:"announcements,omitempty"`
}

// IsMember reports whether userID is an approved member or the club admin.
func (c Club) IsMember(userID int64) bool {
	if c.AdminID == userID {
		return true
	}
	for _, id := range c.StudentIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsPending reports whether userID has an outstanding join request.
func (c Club) IsPending(userID int64) bool {
	for _, id := range c.PendingIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Announcement is a post on a club's board.
type Announcement struct {
	ID      int64  `json:"id"`
	ClubID  int64  `json:"club_id"`
	UserID  int64  `json:"user_id"`
	Content string `json:"content"`
	Author  *User  `json:"author,omitempty"`
}

// ClubMessage is a chat message inside a club.
type ClubMessage struct {
	ID        int64  `json:"id"`
	ClubID    int64  `json:"club_id"`
	UserID    int64  `json:"user_id"`
	Content   string `json:"content"`
	Author    *User  `json:"author,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// JoinResult is returned by join and approve actions.
type JoinResult struct {
	Message string `json:"message"`
	Club    Club   `json:"club"`
}

// MessageResponse is the generic {message} acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}
