package models

// UserPreference is a last-write-wins key/value pair. No merge logic.
type UserPreference struct {
	Key       string `db:"pref_key" json:"key"`
	Value     string `db:"pref_value" json:"value"`
	Timestamp int64  `db:"timestamp" json:"timestamp"`
}

// TableName returns the table name for UserPreference.
func (UserPreference) TableName() string {
	return "preferences"
}
