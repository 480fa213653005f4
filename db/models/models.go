package models

func GetModels() []any {
	return []any{
		&File{},
	}
}
