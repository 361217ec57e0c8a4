package dav

import (
	"context"
	"fmt"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/emersion/go-webdav/carddav"
)

// DiscoveredCollection is a collection found on the server during discovery.
type DiscoveredCollection struct {
	Type        string // "calendar", "tasklist" or "addressbook"
	URL         string // Absolute collection URL
	Name        string
	Description string
}

// Discover finds the calendars, task lists and address books available to the
// authenticated principal. Calendar-home and addressbook-home failures are
// independent: a server that only speaks CalDAV still yields its calendars.
func (c *Client) Discover(ctx context.Context) ([]DiscoveredCollection, error) {
	httpClient := webdav.HTTPClient(c.httpClient)
	if c.creds.BearerToken == "" && c.creds.Username != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(c.httpClient, c.creds.Username, c.creds.Password)
	}

	var found []DiscoveredCollection
	var calErr, cardErr error

	calClient, err := caldav.NewClient(httpClient, c.baseURL)
	if err == nil {
		cals, err := discoverCalendars(ctx, calClient)
		if err != nil {
			calErr = err
		} else {
			found = append(found, cals...)
		}
	} else {
		calErr = err
	}

	cardClient, err := carddav.NewClient(httpClient, c.baseURL)
	if err == nil {
		books, err := discoverAddressBooks(ctx, cardClient)
		if err != nil {
			cardErr = err
		} else {
			found = append(found, books...)
		}
	} else {
		cardErr = err
	}

	if len(found) == 0 && calErr != nil && cardErr != nil {
		return nil, fmt.Errorf("%w: caldav: %v; carddav: %v", ErrConnectionFailed, calErr, cardErr)
	}

	return found, nil
}

func discoverCalendars(ctx context.Context, client *caldav.Client) ([]DiscoveredCollection, error) {
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendars: %w", err)
	}

	found := make([]DiscoveredCollection, 0, len(cals))
	for _, cal := range cals {
		colType := "calendar"
		if supportsOnlyTodos(cal.SupportedComponentSet) {
			colType = "tasklist"
		}
		found = append(found, DiscoveredCollection{
			Type:        colType,
			URL:         cal.Path,
			Name:        cal.Name,
			Description: cal.Description,
		})
	}

	return found, nil
}

func discoverAddressBooks(ctx context.Context, client *carddav.Client) ([]DiscoveredCollection, error) {
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find principal: %w", err)
	}

	homeSet, err := client.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to find addressbook home set: %w", err)
	}

	books, err := client.FindAddressBooks(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("failed to find address books: %w", err)
	}

	found := make([]DiscoveredCollection, 0, len(books))
	for _, book := range books {
		found = append(found, DiscoveredCollection{
			Type:        "addressbook",
			URL:         book.Path,
			Name:        book.Name,
			Description: book.Description,
		})
	}

	return found, nil
}

// supportsOnlyTodos reports whether a calendar advertises VTODO support
// without VEVENT. Such collections are treated as task lists.
func supportsOnlyTodos(components []string) bool {
	if len(components) == 0 {
		return false
	}
	hasTodo := false
	for _, comp := range components {
		switch comp {
		case "VEVENT":
			return false
		case "VTODO":
			hasTodo = true
		}
	}
	return hasTodo
}
