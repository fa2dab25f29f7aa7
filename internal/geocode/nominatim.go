package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

type NominatimGeocoder struct {
	BaseURL     string
	UserAgent   string
	MinInterval time.Duration
	Client      *http.Client

	mu        sync.Mutex
	lastReqAt time.Time
	cache     map[string]string
}

type nominatimReverseItem struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

func (g *NominatimGeocoder) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	if !ValidCoordinates(lat, lon) {
		return "", ErrNotFound
	}
	if g.Client == nil {
		g.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if g.BaseURL == "" {
		g.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if g.UserAgent == "" {
		g.UserAgent = "dimeloc-backend"
	}
	if g.MinInterval <= 0 {
		g.MinInterval = time.Second
	}

	key := CacheKey(lat, lon)
	g.mu.Lock()
	if g.cache == nil {
		g.cache = map[string]string{}
	}
	if cached, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return cached, nil
	}
	sleepFor := time.Until(g.lastReqAt.Add(g.MinInterval))
	if sleepFor > 0 {
		g.mu.Unlock()
		select {
		case <-time.After(sleepFor):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		g.mu.Lock()
	}
	g.lastReqAt = time.Now()
	g.mu.Unlock()

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	endpoint := fmt.Sprintf("%s/reverse?%s", g.BaseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", g.UserAgent)
	req.Header.Set("Accept-Language", "es")

	resp, err := g.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("nominatim http error: %s", resp.Status)
	}

	var item nominatimReverseItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return "", err
	}
	address, err := parseReverseItem(item)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	g.cache[key] = address
	g.mu.Unlock()
	return address, nil
}

func parseReverseItem(item nominatimReverseItem) (string, error) {
	if item.Error != "" {
		return "", ErrNotFound
	}
	if road := item.Address["road"]; road != "" {
		parts := road
		if n := item.Address["house_number"]; n != "" {
			parts += " " + n
		}
		for _, k := range []string{"suburb", "city"} {
			if v := item.Address[k]; v != "" {
				parts += ", " + v
			}
		}
		return parts, nil
	}
	if item.DisplayName == "" {
		return "", ErrNotFound
	}
	return ShortAddress(item.DisplayName, 3), nil
}
