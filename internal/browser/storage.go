package browser

import "time"

// Cookie is a browser cookie in playwright storage-state form. The same
// shape converts cleanly to CDP cookie params, so both drivers share it.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	URL      string  `json:"url,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"` // "Strict", "Lax", "None"
}

// StorageItem is one localStorage entry.
type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OriginState holds the localStorage saved for one origin.
type OriginState struct {
	Origin       string        `json:"origin"`
	LocalStorage []StorageItem `json:"localStorage"`
}

// StorageState is a saved browser session: cookies plus per-origin
// localStorage, serialized in playwright's storage-state JSON layout so
// saved sessions stay portable across drivers.
type StorageState struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

// OriginStorage returns the saved localStorage for an origin, or nil.
func (s *StorageState) OriginStorage(origin string) []StorageItem {
	for _, o := range s.Origins {
		if o.Origin == origin {
			return o.LocalStorage
		}
	}
	return nil
}

// SetCookieExpiry builds a cookie expiry timestamp d from now.
func SetCookieExpiry(d time.Duration) float64 {
	return float64(time.Now().Add(d).Unix())
}
