// Package identity derives content-addressed identities for listed items.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/romangod6/listing-harvester/internal/models"
)

const separator = "|"

// Hash returns the hex SHA-256 digest of the item's normalized defining
// fields. Items that differ only in casing or surrounding whitespace of
// those fields, type tag included, hash identically.
func Hash(item models.Item) string {
	sum := sha256.Sum256([]byte(hashInput(item)))
	return hex.EncodeToString(sum[:])
}

func hashInput(item models.Item) string {
	item.ItemType = models.MigrateItemType(item.ItemType)
	parts := []string{
		string(item.ItemType),
		normalize(item.Manufacturer),
		normalize(item.Model),
	}
	parts = append(parts, extras(item)...)
	return strings.Join(parts, separator)
}

func extras(item models.Item) []string {
	switch item.ItemType {
	case models.ItemFirearm, models.ItemAmmunition:
		return []string{normalize(item.Caliber)}
	case models.ItemMagazine:
		return []string{normalize(item.Caliber), capacity(item.Capacity)}
	default:
		return nil
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func capacity(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
