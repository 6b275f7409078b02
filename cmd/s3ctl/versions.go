package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newVersionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Inspect and roll back object versions",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list OBJECT_ID",
			Short: "List versions, newest first",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.query(cmd, http.MethodGet, "/objects/"+url.PathEscape(args[0])+"/versions", nil)
			},
		},
		&cobra.Command{
			Use:   "active OBJECT_ID",
			Short: "Show the active version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.query(cmd, http.MethodGet, "/objects/"+url.PathEscape(args[0])+"/versions/active", nil)
			},
		},
		&cobra.Command{
			Use:   "rollback OBJECT_ID VERSION",
			Short: "Make an existing version the active one",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 1 {
					return fmt.Errorf("version must be a positive integer, got %q", args[1])
				}
				return a.query(cmd, http.MethodPost,
					fmt.Sprintf("/objects/%s/versions/%d/rollback", url.PathEscape(args[0]), n), nil)
			},
		},
	)
	return cmd
}

func newObjectsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objects",
		Short: "Read object metadata",
	}

	get := &cobra.Command{
		Use:   "get OBJECT_ID",
		Short: "Show an object's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.query(cmd, http.MethodGet, "/objects/"+url.PathEscape(args[0]), nil)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List objects by owner and/or tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if owner, _ := cmd.Flags().GetString("owner"); owner != "" {
				q.Set("owner", owner)
			}
			if tag, _ := cmd.Flags().GetString("tag"); tag != "" {
				q.Set("tag", tag)
			}
			if len(q) == 0 {
				return fmt.Errorf("--owner or --tag is required")
			}
			return a.query(cmd, http.MethodGet, "/objects", q)
		},
	}
	list.Flags().String("owner", "", "owner id")
	list.Flags().String("tag", "", "tag to search for")

	cmd.AddCommand(get, list)
	return cmd
}

func (a *app) query(cmd *cobra.Command, method, path string, q url.Values) error {
	c := newMetadataClient(a.v.GetString("metadata-url"))
	raw, err := c.do(cmd.Context(), method, path, q)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return printJSON(cmd, v)
}
