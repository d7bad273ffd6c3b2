package ledger

import (
	"io"
	"strings"

	"voiceid/internal/config"
	"voiceid/internal/services"
)

// Open returns the ledger configured in cfg: the application database when
// paths.ledger_db is set, otherwise the samples directory. The returned closer
// releases any database handle.
func Open(cfg *config.Config) (Ledger, io.Closer, error) {
	filter := Filter{MinSampleSeconds: cfg.Identification.MinSampleSeconds}
	if path := strings.TrimSpace(cfg.Paths.LedgerDB); path != "" {
		db, err := OpenSQLite(path, filter)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	}
	if dir := strings.TrimSpace(cfg.Paths.SamplesDir); dir != "" {
		return NewDir(dir, filter), nopCloser{}, nil
	}
	return nil, nil, services.Wrap(services.ErrConfiguration, "ledger", "open",
		"set paths.ledger_db or paths.samples_dir", nil)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
