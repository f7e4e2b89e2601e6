package main

import (
	"github.com/urfave/cli/v2"

	convpath "github.com/airnub-labs/regulatory-intelligence-copilot-sub000"
)

var conversationFlag = &cli.StringFlag{
	Name:     "conversation",
	Aliases:  []string{"C"},
	Usage:    "Conversation `ID`",
	Required: true,
}

// withClient runs fn against a client without broadcasting or workers.
func withClient(fn func(c *cli.Context, client *convpath.Client) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := newRuntime(c, runtimeOptions{})
		if err != nil {
			return err
		}
		defer rt.close()
		return fn(c, rt.client)
	}
}

func pathsCommand() *cli.Command {
	return &cli.Command{
		Name:  "paths",
		Usage: "Inspect the paths of a conversation",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List paths, or print the path tree with --tree",
				Flags: []cli.Flag{
					conversationFlag,
					&cli.BoolFlag{Name: "tree", Usage: "Print the tree rooted at the primary path"},
				},
				Action: withClient(func(c *cli.Context, client *convpath.Client) error {
					if c.Bool("tree") {
						tree, err := client.GetPathTree(c.Context, c.String("conversation"))
						if err != nil {
							return err
						}
						return writeJSON(c.App.Writer, tree)
					}
					paths, err := client.ListPaths(c.Context, c.String("conversation"))
					if err != nil {
						return err
					}
					return writeJSON(c.App.Writer, paths)
				}),
			},
		},
	}
}

func messagesCommand() *cli.Command {
	return &cli.Command{
		Name:  "messages",
		Usage: "Inspect the messages of a path",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the transcript of a path (default: active path)",
				Flags: []cli.Flag{
					conversationFlag,
					&cli.StringFlag{Name: "path", Usage: "Path `ID`"},
					&cli.BoolFlag{Name: "include-superseded", Usage: "Include superseded versions"},
				},
				Action: withClient(func(c *cli.Context, client *convpath.Client) error {
					conversationID, pathID := c.String("conversation"), c.String("path")
					if pathID == "" {
						path, err := client.GetActivePath(c.Context, conversationID)
						if err != nil {
							return err
						}
						pathID = path.ID
					}
					msgs, err := client.ListMessages(c.Context, conversationID, pathID, convpath.ListMessagesOptions{
						IncludeSuperseded: c.Bool("include-superseded"),
					})
					if err != nil {
						return err
					}
					return writeJSON(c.App.Writer, msgs)
				}),
			},
		},
	}
}

func branchCommand() *cli.Command {
	return &cli.Command{
		Name:  "branch",
		Usage: "Create branches",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Branch a conversation after a message",
				Flags: []cli.Flag{
					conversationFlag,
					&cli.StringFlag{Name: "message", Usage: "Source message `ID`", Required: true},
					&cli.StringFlag{Name: "name", Usage: "Branch name (default: \"Branch N\")"},
					&cli.BoolFlag{Name: "activate", Usage: "Make the new branch the active path"},
				},
				Action: withClient(func(c *cli.Context, client *convpath.Client) error {
					result, err := client.CreateBranch(c.Context, convpath.CreateBranchParams{
						ConversationID:  c.String("conversation"),
						SourceMessageID: c.String("message"),
						Name:            c.String("name"),
						SetActive:       c.Bool("activate"),
					})
					if err != nil {
						return err
					}
					return writeJSON(c.App.Writer, result)
				}),
			},
		},
	}
}

func activeCommand() *cli.Command {
	return &cli.Command{
		Name:  "active",
		Usage: "Read or move the active path pointer",
		Subcommands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Print the active path",
				Flags: []cli.Flag{conversationFlag},
				Action: withClient(func(c *cli.Context, client *convpath.Client) error {
					path, err := client.GetActivePath(c.Context, c.String("conversation"))
					if err != nil {
						return err
					}
					return writeJSON(c.App.Writer, path)
				}),
			},
			{
				Name:  "set",
				Usage: "Make a path the active one",
				Flags: []cli.Flag{
					conversationFlag,
					&cli.StringFlag{Name: "path", Usage: "Path `ID`", Required: true},
				},
				Action: withClient(func(c *cli.Context, client *convpath.Client) error {
					conversationID := c.String("conversation")
					if err := client.SetActivePath(c.Context, conversationID, c.String("path")); err != nil {
						return err
					}
					path, err := client.GetActivePath(c.Context, conversationID)
					if err != nil {
						return err
					}
					return writeJSON(c.App.Writer, path)
				}),
			},
		},
	}
}
