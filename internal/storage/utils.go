package storage

func InitStore(driverName, dsn string) (*SQLStore, error) {
	store, err := NewSQLStore(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return store, nil
}
