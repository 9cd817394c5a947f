package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romangod6/listing-harvester/internal/models"
)

func TestHashIgnoresCaseAndWhitespace(t *testing.T) {
	a := models.Item{ItemType: models.ItemFirearm, Manufacturer: " Glock ", Model: "19", Caliber: "9MM"}
	b := models.Item{ItemType: models.ItemFirearm, Manufacturer: "glock", Model: "19", Caliber: "9mm"}

	assert.Equal(t, Hash(a), Hash(b))
}

func TestHashIsFixedLengthHex(t *testing.T) {
	h := Hash(models.Item{ItemType: models.ItemOther, Manufacturer: "Safariland"})
	require.Len(t, h, 64)
	for _, r := range h {
		assert.Contains(t, "0123456789abcdef", string(r))
	}
}

func TestHashDeterministic(t *testing.T) {
	item := models.Item{ItemType: models.ItemMagazine, Manufacturer: "Magpul", Model: "PMAG", Caliber: "5.56", Capacity: 30}
	require.Equal(t, "magazine|magpul|pmag|5.56|30", hashInput(item))

	sum := sha256.Sum256([]byte("magazine|magpul|pmag|5.56|30"))
	assert.Equal(t, hex.EncodeToString(sum[:]), Hash(item))
}

func TestHashDistinguishesTypeSpecificFields(t *testing.T) {
	tests := []struct {
		name string
		a, b models.Item
	}{
		{
			name: "firearm caliber",
			a:    models.Item{ItemType: models.ItemFirearm, Manufacturer: "Ruger", Model: "10/22", Caliber: ".22 LR"},
			b:    models.Item{ItemType: models.ItemFirearm, Manufacturer: "Ruger", Model: "10/22", Caliber: ".17 HMR"},
		},
		{
			name: "magazine capacity",
			a:    models.Item{ItemType: models.ItemMagazine, Manufacturer: "Glock", Model: "G17", Caliber: "9mm", Capacity: 17},
			b:    models.Item{ItemType: models.ItemMagazine, Manufacturer: "Glock", Model: "G17", Caliber: "9mm", Capacity: 33},
		},
		{
			name: "ammunition caliber",
			a:    models.Item{ItemType: models.ItemAmmunition, Manufacturer: "Federal", Caliber: "9mm"},
			b:    models.Item{ItemType: models.ItemAmmunition, Manufacturer: "Federal", Caliber: ".45 ACP"},
		},
		{
			name: "type tag",
			a:    models.Item{ItemType: models.ItemFirearm, Manufacturer: "Glock", Model: "19"},
			b:    models.Item{ItemType: models.ItemMagazine, Manufacturer: "Glock", Model: "19"},
		},
		{
			name: "field boundaries",
			a:    models.Item{ItemType: models.ItemOther, Manufacturer: "a", Model: "bc"},
			b:    models.Item{ItemType: models.ItemOther, Manufacturer: "ab", Model: "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, Hash(tt.a), Hash(tt.b))
		})
	}
}

func TestHashIgnoresFieldsOutsideType(t *testing.T) {
	a := models.Item{ItemType: models.ItemOther, Manufacturer: "Streamlight", Model: "TLR-1", Caliber: "9mm", Capacity: 10}
	b := models.Item{ItemType: models.ItemOther, Manufacturer: "Streamlight", Model: "TLR-1"}
	assert.Equal(t, Hash(a), Hash(b))

	c := models.Item{ItemType: models.ItemFirearm, Manufacturer: "Glock", Model: "19", Caliber: "9mm", Condition: "used"}
	d := models.Item{ItemType: models.ItemFirearm, Manufacturer: "Glock", Model: "19", Caliber: "9mm", Condition: "new", Capacity: 15}
	assert.Equal(t, Hash(c), Hash(d))
}

func TestHashMissingFieldsNormalizeToEmpty(t *testing.T) {
	assert.Equal(t, "magazine||||", hashInput(models.Item{ItemType: models.ItemMagazine}))
	assert.Equal(t, "firearm|||", hashInput(models.Item{ItemType: models.ItemFirearm}))
	assert.Equal(t, "other||", hashInput(models.Item{ItemType: models.ItemOther}))
}

func TestHashNormalizesTypeTag(t *testing.T) {
	mixed := models.Item{ItemType: "Firearm", Manufacturer: "Glock", Model: "19", Caliber: "9mm"}
	lower := models.Item{ItemType: models.ItemFirearm, Manufacturer: "glock", Model: "19", Caliber: "9mm"}
	assert.Equal(t, Hash(lower), Hash(mixed))
	assert.Equal(t, "firearm|glock|19|9mm", hashInput(mixed))

	other := mixed
	other.Caliber = ".45 ACP"
	assert.NotEqual(t, Hash(mixed), Hash(other), "caliber counts for a mixed-case firearm tag")

	legacy := models.Item{ItemType: " GUN ", Manufacturer: "Glock", Model: "19", Caliber: "9mm"}
	assert.Equal(t, Hash(lower), Hash(legacy))

	mag := models.Item{ItemType: "MAGAZINE", Manufacturer: "Magpul", Model: "PMAG", Caliber: "5.56", Capacity: 30}
	assert.Equal(t, "magazine|magpul|pmag|5.56|30", hashInput(mag))
}
