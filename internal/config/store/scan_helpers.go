package store

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStringPair(scanner rowScanner) (string, string, error) {
	var key, value string
	err := scanner.Scan(&key, &value)
	return key, value, err
}
