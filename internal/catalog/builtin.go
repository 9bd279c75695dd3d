package catalog

import "wowmeta/aggregator/internal/models"

func spec(class, name string, role models.SpecRole) models.ClassSpec {
	return models.ClassSpec{ClassName: class, SpecName: name, Role: role}
}

// Default returns the built-in catalog for the current season
func Default() *Catalog {
	const (
		tank   = models.RoleTank
		healer = models.RoleHealer
		dps    = models.RoleDPS
	)

	return &Catalog{
		Specs: []models.ClassSpec{
			spec("DeathKnight", "Blood", tank),
			spec("DeathKnight", "Frost", dps),
			spec("DeathKnight", "Unholy", dps),
			spec("DemonHunter", "Havoc", dps),
			spec("DemonHunter", "Vengeance", tank),
			spec("Druid", "Balance", dps),
			spec("Druid", "Feral", dps),
			spec("Druid", "Guardian", tank),
			spec("Druid", "Restoration", healer),
			spec("Evoker", "Devastation", dps),
			spec("Evoker", "Preservation", healer),
			spec("Evoker", "Augmentation", dps),
			spec("Hunter", "BeastMastery", dps),
			spec("Hunter", "Marksmanship", dps),
			spec("Hunter", "Survival", dps),
			spec("Mage", "Arcane", dps),
			spec("Mage", "Fire", dps),
			spec("Mage", "Frost", dps),
			spec("Monk", "Brewmaster", tank),
			spec("Monk", "Mistweaver", healer),
			spec("Monk", "Windwalker", dps),
			spec("Paladin", "Holy", healer),
			spec("Paladin", "Protection", tank),
			spec("Paladin", "Retribution", dps),
			spec("Priest", "Discipline", healer),
			spec("Priest", "Holy", healer),
			spec("Priest", "Shadow", dps),
			spec("Rogue", "Assassination", dps),
			spec("Rogue", "Outlaw", dps),
			spec("Rogue", "Subtlety", dps),
			spec("Shaman", "Elemental", dps),
			spec("Shaman", "Enhancement", dps),
			spec("Shaman", "Restoration", healer),
			spec("Warlock", "Affliction", dps),
			spec("Warlock", "Demonology", dps),
			spec("Warlock", "Destruction", dps),
			spec("Warrior", "Arms", dps),
			spec("Warrior", "Fury", dps),
			spec("Warrior", "Protection", tank),
		},
		Encounters: []models.Encounter{
			{ID: 62660, Name: "Ara-Kara, City of Echoes", Kind: models.KindDungeon},
			{ID: 12830, Name: "Eco-Dome Al'dani", Kind: models.KindDungeon},
			{ID: 62287, Name: "Halls of Atonement", Kind: models.KindDungeon},
			{ID: 62773, Name: "Operation: Floodgate", Kind: models.KindDungeon},
			{ID: 62649, Name: "Priory of the Sacred Flame", Kind: models.KindDungeon},
			{ID: 112442, Name: "Tazavesh: So'leah's Gambit", Kind: models.KindDungeon},
			{ID: 112441, Name: "Tazavesh: Streets of Wonder", Kind: models.KindDungeon},
			{ID: 62662, Name: "The Dawnbreaker", Kind: models.KindDungeon},

			{ID: 2902, Name: "Ulgrax the Devourer", Kind: models.KindRaid},
			{ID: 2917, Name: "The Bloodbound Horror", Kind: models.KindRaid},
			{ID: 2898, Name: "Sikran, Captain of the Sureki", Kind: models.KindRaid},
			{ID: 2918, Name: "Rasha'nan", Kind: models.KindRaid},
			{ID: 2919, Name: "Broodtwister Ovi'nax", Kind: models.KindRaid},
			{ID: 2920, Name: "Nexus-Princess Ky'veza", Kind: models.KindRaid},
			{ID: 2921, Name: "The Silken Court", Kind: models.KindRaid},
			{ID: 2922, Name: "Queen Ansurek", Kind: models.KindRaid},
		},
	}
}
