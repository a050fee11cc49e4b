package storage

import "encoding/json"

// PlayRecord tracks watch progress for one piece of content. The JSON field
// names are the wire format shared with the web client; they must not change.
type PlayRecord struct {
	Title         string `json:"title"`
	SourceName    string `json:"source_name"`
	Cover         string `json:"cover"`
	Year          string `json:"year"`
	Index         int    `json:"index"` // current episode, 1-based
	TotalEpisodes int    `json:"total_episodes"`
	PlayTime      int64  `json:"play_time"`  // elapsed seconds
	TotalTime     int64  `json:"total_time"` // duration seconds
	SaveTime      int64  `json:"save_time"`  // unix ms
	SearchTitle   string `json:"search_title,omitempty"`
}

// Favorite marks one piece of content as favorited. Presence of the record
// is the sole "is-favorited" signal.
type Favorite struct {
	Title         string `json:"title"`
	SourceName    string `json:"source_name"`
	Cover         string `json:"cover"`
	Year          string `json:"year"`
	TotalEpisodes int    `json:"total_episodes"`
	SaveTime      int64  `json:"save_time"` // unix ms
	SearchTitle   string `json:"search_title,omitempty"`
}

// Segment types for skip configs.
const (
	SegmentOpening = "opening"
	SegmentEnding  = "ending"
)

// SkipSegment is a time range within an episode tagged as opening or ending.
// Validation (start < end, non-overlap) is a caller responsibility.
type SkipSegment struct {
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
	Type  string  `json:"type"`  // SegmentOpening or SegmentEnding
	Title string  `json:"title,omitempty"`
}

// EpisodeSkipConfig holds the skip segments for one piece of content.
type EpisodeSkipConfig struct {
	Source      string        `json:"source"`
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Segments    []SkipSegment `json:"segments"`
	UpdatedTime int64         `json:"updated_time"` // unix ms
}

// User roles. Owner is derived from the configured owner username, never
// stored; admin assignment lives in AdminConfig.
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is the public view of an account as returned by GetAllUsers.
type User struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"` // RFC3339, empty when unknown
}

// userDoc is the stored form of an account on the KV backends.
type userDoc struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	CreatedAt int64  `json:"created_at"` // unix ms
}

// UserSettings carries per-user preferences. Unknown keys written by newer
// clients survive round-trips through Extra.
type UserSettings struct {
	FilterAdultContent bool
	Theme              string
	Language           string
	AutoPlay           bool
	VideoQuality       string
	Extra              map[string]any
}

// MarshalJSON flattens the known fields and Extra into a single object,
// matching the wire format of the web client.
func (s UserSettings) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 5+len(s.Extra))
	for k, v := range s.Extra {
		m[k] = v
	}
	m["filter_adult_content"] = s.FilterAdultContent
	m["theme"] = s.Theme
	m["language"] = s.Language
	m["auto_play"] = s.AutoPlay
	m["video_quality"] = s.VideoQuality
	return json.Marshal(m)
}

// UnmarshalJSON splits a flat settings object into known fields plus Extra.
// Extra keeps only scalar values (string, bool, number). Absent keys keep
// their defaults: blobs written by older clients may lack
// filter_adult_content, and the flag must resolve to true, never regress to
// false through a zero value.
func (s *UserSettings) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*s = *DefaultUserSettings()
	if v, ok := m["filter_adult_content"].(bool); ok {
		s.FilterAdultContent = v
	}
	if v, ok := m["theme"].(string); ok {
		s.Theme = v
	}
	if v, ok := m["language"].(string); ok {
		s.Language = v
	}
	if v, ok := m["auto_play"].(bool); ok {
		s.AutoPlay = v
	}
	if v, ok := m["video_quality"].(string); ok {
		s.VideoQuality = v
	}
	for _, k := range []string{"filter_adult_content", "theme", "language", "auto_play", "video_quality"} {
		delete(m, k)
	}
	for k, v := range m {
		switch v.(type) {
		case string, bool, float64:
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[k] = v
		}
	}
	return nil
}

func (s *UserSettings) clone() *UserSettings {
	if s == nil {
		return nil
	}
	out := *s
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// SettingsPatch is a partial settings update. Nil fields are "not present"
// and leave the stored value untouched.
type SettingsPatch struct {
	FilterAdultContent *bool
	Theme              *string
	Language           *string
	AutoPlay           *bool
	VideoQuality       *string
	Extra              map[string]any
}

// UnmarshalJSON accepts a flat partial-settings object; keys that are absent
// stay nil, unknown scalar keys land in Extra.
func (p *SettingsPatch) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*p = SettingsPatch{}
	if v, ok := m["filter_adult_content"].(bool); ok {
		p.FilterAdultContent = &v
	}
	if v, ok := m["theme"].(string); ok {
		p.Theme = &v
	}
	if v, ok := m["language"].(string); ok {
		p.Language = &v
	}
	if v, ok := m["auto_play"].(bool); ok {
		p.AutoPlay = &v
	}
	if v, ok := m["video_quality"].(string); ok {
		p.VideoQuality = &v
	}
	for _, k := range []string{"filter_adult_content", "theme", "language", "auto_play", "video_quality"} {
		delete(m, k)
	}
	for k, v := range m {
		switch v.(type) {
		case string, bool, float64:
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[k] = v
		}
	}
	return nil
}

// Source origin tags. Sources tagged from the deployment config are treated
// as immutable by callers; the data layer stores whatever it is given.
const (
	SourceFromConfig = "config"
	SourceFromCustom = "custom"
)

// SiteConfig is the site-wide portion of the admin configuration.
type SiteConfig struct {
	SiteName                string `json:"SiteName"`
	Announcement            string `json:"Announcement"`
	SearchDownstreamMaxPage int    `json:"SearchDownstreamMaxPage"`
	SiteInterfaceCacheTime  int    `json:"SiteInterfaceCacheTime"`
	ImageProxy              string `json:"ImageProxy"`
	DoubanProxy             string `json:"DoubanProxy"`
}

// AdminUserEntry is one account row inside the admin configuration.
type AdminUserEntry struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Banned   bool   `json:"banned,omitempty"`
}

// UserConfig is the account-management portion of the admin configuration.
type UserConfig struct {
	AllowRegister bool             `json:"AllowRegister"`
	Users         []AdminUserEntry `json:"Users"`
}

// SourceConfig describes one upstream content source.
type SourceConfig struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	API      string `json:"api"`
	Detail   string `json:"detail,omitempty"`
	From     string `json:"from"` // SourceFromConfig or SourceFromCustom
	Disabled bool   `json:"disabled,omitempty"`
	IsAdult  bool   `json:"is_adult,omitempty"`
}

// AdminConfig is the process-wide singleton configuration blob.
type AdminConfig struct {
	SiteConfig   SiteConfig     `json:"SiteConfig"`
	UserConfig   UserConfig     `json:"UserConfig"`
	SourceConfig []SourceConfig `json:"SourceConfig"`
}

func roleFor(username, owner string) string {
	if username == owner {
		return RoleOwner
	}
	return RoleUser
}
