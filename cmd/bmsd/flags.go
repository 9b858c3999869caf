package main

import (
	"flag"
)

type config struct {
	RedisAddr    string
	PostgresConn string
	SiteID       int
	SiteName     string
	Profile      string
	Workers      int
	ListenAddr   string
	UnitsFile    string
}

func registerFlags(c *config, fs *flag.FlagSet) {
	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "Redis address for the queue and unit state")
	fs.StringVar(&c.PostgresConn, "postgres-conn", "", "Postgres connection string for the time-series stores")
	fs.IntVar(&c.SiteID, "site-id", 0, "Numeric id of the site this process manages")
	fs.StringVar(&c.SiteName, "site-name", "", "Human-readable site name")
	fs.StringVar(&c.Profile, "site-profile", "standard", "Site profile, one of [standard, therapy]")
	fs.IntVar(&c.Workers, "workers", 4, "Worker pool size")
	fs.StringVar(&c.ListenAddr, "listen-addr", ":8080", "Admin HTTP listen address")
	fs.StringVar(&c.UnitsFile, "units-file", "units.json", "Path to the site's equipment unit table")
}
