package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"wowmeta/aggregator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Len(t, c.Specs, 39)
	assert.Len(t, c.Encounters, 16)
}

func TestBuildTasksCrossProduct(t *testing.T) {
	c := Default()
	tasks := c.BuildTasks(12)

	// 8 dungeons × 2 brackets + 8 raids × 1
	assert.Len(t, tasks, 39*(8*2+8))

	keys := make(map[models.MetaKey]bool, len(tasks))
	for _, task := range tasks {
		assert.False(t, keys[task.Key()], "Duplicate task %s", task.Key())
		keys[task.Key()] = true

		switch task.Encounter.Kind {
		case models.KindDungeon:
			assert.True(t, task.Selector.Bracketed())
		case models.KindRaid:
			assert.Equal(t, models.BracketNone, task.Selector.Key)
		}
	}
}

func TestSelectorsSplitAtThreshold(t *testing.T) {
	sel := Selectors(models.Encounter{ID: 1, Kind: models.KindDungeon}, 12)
	require.Len(t, sel, 2)

	assert.Equal(t, models.BracketLow, sel[0].Key)
	assert.Equal(t, 1, sel[0].MinLevel)
	assert.Equal(t, 12, sel[0].MaxLevel)

	assert.Equal(t, models.BracketHigh, sel[1].Key)
	assert.Equal(t, 12, sel[1].MinLevel)
	assert.Zero(t, sel[1].MaxLevel, "High bracket is unbounded")
}

func TestApplyFilter(t *testing.T) {
	c := Default().Apply(Filter{EncounterIDs: []int{2902, 62660}, ClassNames: []string{"paladin"}})

	assert.Len(t, c.Specs, 3)
	assert.Len(t, c.Encounters, 2)
	assert.Len(t, c.BuildTasks(12), 3*(2+1))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
specs:
  - class: Paladin
    spec: Holy
    role: healer
  - class: Warrior
    spec: Protection
    role: tank
encounters:
  - id: 2902
    name: Ulgrax the Devourer
    kind: raid
  - id: 62660
    name: Ara-Kara, City of Echoes
    kind: dungeon
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, models.ClassSpec{ClassName: "Paladin", SpecName: "Holy", Role: models.RoleHealer}, c.Specs[0])
	assert.Equal(t, models.KindDungeon, c.Encounters[1].Kind)
	assert.Len(t, c.BuildTasks(12), 2*(1+2))
}

func TestLoadFileRejectsInvalidCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
specs:
  - class: Paladin
    spec: Holy
    role: support
encounters:
  - id: 2902
    kind: raid
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestValidateRejectsDuplicates(t *testing.T) {
	c := &Catalog{
		Specs: []models.ClassSpec{
			{ClassName: "Mage", SpecName: "Fire", Role: models.RoleDPS},
			{ClassName: "Mage", SpecName: "Fire", Role: models.RoleDPS},
		},
		Encounters: []models.Encounter{{ID: 1, Kind: models.KindRaid}},
	}
	assert.Error(t, c.Validate())
}
