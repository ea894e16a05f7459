package main

// Options is the root command. The struct tags are interpreted by
// github.com/jessevdk/go-flags.
type Options struct {
	Config  string `short:"f" long:"config" description:"config file path (TOML or YAML)"`
	BaseURL string `short:"b" long:"base-url" description:"override the configured base URL"`
	Verbose bool   `short:"v" long:"verbose" description:"log at debug level"`
	NoColor bool   `long:"no-color" description:"disable output highlighting"`

	Get    *GetCmd    `command:"get" description:"Send a GET request"`
	Send   *SendCmd   `command:"send" description:"Send a request with a JSON body"`
	Login  *LoginCmd  `command:"login" description:"Store a session token"`
	Logout *LogoutCmd `command:"logout" description:"Destroy the stored session"`
	Whoami *WhoamiCmd `command:"whoami" description:"Show the stored session"`
}

// Init instantiates the sub-command referenced by the first argument so that
// flags.Parse can populate its fields.
func (o *Options) Init(args []string) {
	first := ""
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case a == "-f" || a == "--config" || a == "-b" || a == "--base-url":
			i++
		case len(a) > 0 && a[0] != '-':
			first = a
		}
		if first != "" {
			break
		}
	}
	switch first {
	case "get":
		o.Get = &GetCmd{root: o}
	case "send":
		o.Send = &SendCmd{root: o}
	case "login":
		o.Login = &LoginCmd{root: o}
	case "logout":
		o.Logout = &LogoutCmd{root: o}
	case "whoami":
		o.Whoami = &WhoamiCmd{root: o}
	}
}
