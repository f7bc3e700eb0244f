package store

func Rebind(s *Store, query string) string { return s.q(query) }
