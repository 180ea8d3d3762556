package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenantunion/tenant-platform/pkg/authz"
	"github.com/tenantunion/tenant-platform/pkg/permissions"
)

var permissionsCmd = &cobra.Command{
	Use:     "permissions",
	Aliases: []string{"perms"},
	Short:   "Inspect and manage building admin permissions",
}

var (
	permBuilding   string
	permUser       string
	permPermission string
	permTemplate   string
	permExpiresIn  time.Duration
	permReason     string
)

func init() {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "List every permission and template",
		Args:  cobra.NoArgs,
		RunE:  runCatalog,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active grants in a building, optionally for one user",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&permBuilding, "building", "", "Building ID")
	listCmd.Flags().StringVar(&permUser, "user", "", "User ID")
	_ = listCmd.MarkFlagRequired("building")

	grantCmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a permission or a template of permissions",
		Args:  cobra.NoArgs,
		RunE:  runGrant,
	}
	grantCmd.Flags().StringVar(&permBuilding, "building", "", "Building ID")
	grantCmd.Flags().StringVar(&permUser, "user", "", "User ID")
	grantCmd.Flags().StringVar(&permPermission, "permission", "", "Permission key")
	grantCmd.Flags().StringVar(&permTemplate, "template", "", "Template name")
	grantCmd.Flags().DurationVar(&permExpiresIn, "expires-in", 0, "Expire the grant after this duration")
	grantCmd.Flags().StringVar(&permReason, "reason", "", "Reason recorded in the audit log")
	_ = grantCmd.MarkFlagRequired("building")
	_ = grantCmd.MarkFlagRequired("user")
	grantCmd.MarkFlagsOneRequired("permission", "template")
	grantCmd.MarkFlagsMutuallyExclusive("permission", "template")

	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a permission",
		Args:  cobra.NoArgs,
		RunE:  runRevoke,
	}
	revokeCmd.Flags().StringVar(&permBuilding, "building", "", "Building ID")
	revokeCmd.Flags().StringVar(&permUser, "user", "", "User ID")
	revokeCmd.Flags().StringVar(&permPermission, "permission", "", "Permission key")
	revokeCmd.Flags().StringVar(&permReason, "reason", "", "Reason recorded in the audit log")
	_ = revokeCmd.MarkFlagRequired("building")
	_ = revokeCmd.MarkFlagRequired("user")
	_ = revokeCmd.MarkFlagRequired("permission")

	checkCmd := &cobra.Command{
		Use:   "check <requirement>",
		Short: "Evaluate a requirement such as any(view_all_issues,manage_issues)",
		Long: `Fetches the permission set held in a building and evaluates the
requirement locally. Without --user the caller's own set is used, which
includes superuser access.`,
		Args: cobra.ExactArgs(1),
		RunE: runCheck,
	}
	checkCmd.Flags().StringVar(&permBuilding, "building", "", "Building ID")
	checkCmd.Flags().StringVar(&permUser, "user", "", "User ID (default: the caller)")
	_ = checkCmd.MarkFlagRequired("building")

	permissionsCmd.AddCommand(catalogCmd, listCmd, grantCmd, revokeCmd, checkCmd)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	var resp catalogResponse
	if err := newClient().getJSON("/api/v1/permissions", &resp); err != nil {
		return err
	}
	if structuredOutput() {
		return printOutput(resp)
	}

	rows := make([][]string, 0, len(resp.Permissions))
	for _, d := range resp.Permissions {
		rows = append(rows, []string{string(d.Key), d.Group, truncate(d.Description, 60)})
	}
	printTable([]string{"Permission", "Group", "Description"}, rows)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	path := buildingPath(permBuilding) + "/permissions"
	if permUser != "" {
		path = buildingPath(permBuilding) + "/users/" + url.PathEscape(permUser) + "/permissions"
	}

	var resp grantListResponse
	if err := newClient().getJSON(path, &resp); err != nil {
		return err
	}
	if structuredOutput() {
		return printOutput(resp)
	}
	printGrants(resp.Grants)
	return nil
}

func runGrant(cmd *cobra.Command, args []string) error {
	req := grantRequest{
		UserID:     permUser,
		Permission: permPermission,
		Template:   permTemplate,
		Reason:     permReason,
	}
	if permExpiresIn < 0 {
		return errors.New("--expires-in must not be negative")
	}
	if permExpiresIn > 0 {
		req.ExpiresAt = time.Now().Add(permExpiresIn).UTC().Format(time.RFC3339)
	}

	var resp grantListResponse
	if err := newClient().postJSON(buildingPath(permBuilding)+"/permissions", req, &resp); err != nil {
		return err
	}
	if structuredOutput() {
		return printOutput(resp)
	}
	printGrants(resp.Grants)
	return nil
}

func runRevoke(cmd *cobra.Command, args []string) error {
	path := buildingPath(permBuilding) + "/users/" + url.PathEscape(permUser) +
		"/permissions/" + url.PathEscape(permPermission)
	if permReason != "" {
		path += "?reason=" + url.QueryEscape(permReason)
	}
	if err := newClient().delete(path); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "revoked %s from %s in %s\n", permPermission, permUser, permBuilding)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	req, err := authz.ParseRequirement(args[0])
	if err != nil {
		return err
	}

	held, err := fetchHeld(newClient(), permBuilding, permUser)
	if err != nil {
		return err
	}

	result := checkResult{
		BuildingID:  permBuilding,
		UserID:      permUser,
		Requirement: req.String(),
		Allowed:     req.SatisfiedBy(held),
		Held:        []string{},
	}
	for _, p := range permissions.Sorted(held) {
		result.Held = append(result.Held, string(p))
	}

	if structuredOutput() {
		return printOutput(result)
	}
	verdict := "denied"
	if result.Allowed {
		verdict = "allowed"
	}
	printTable([]string{"Requirement", "Result", "Held"}, [][]string{
		{result.Requirement, verdict, strings.Join(result.Held, ",")},
	})
	return nil
}

// fetchHeld returns the permission set of userID in a building, or the
// caller's own set when userID is empty.
func fetchHeld(c *tenantClient, buildingID, userID string) (permissions.Set, error) {
	if userID == "" {
		var resp myPermissionsResponse
		if err := c.getJSON("/api/v1/me/permissions?buildingId="+url.QueryEscape(buildingID), &resp); err != nil {
			return nil, err
		}
		return permissions.NewSet(resp.Permissions...), nil
	}

	var resp grantListResponse
	path := buildingPath(buildingID) + "/users/" + url.PathEscape(userID) + "/permissions"
	if err := c.getJSON(path, &resp); err != nil {
		return nil, err
	}
	set := permissions.NewSet()
	for _, g := range resp.Grants {
		set.Add(g.Permission)
	}
	return set, nil
}

func printGrants(grants []grant) {
	rows := make([][]string, 0, len(grants))
	for _, g := range grants {
		expires := g.ExpiresAt
		if expires == "" {
			expires = "never"
		}
		rows = append(rows, []string{g.UserID, string(g.Permission), g.GrantedBy, expires})
	}
	printTable([]string{"User", "Permission", "Granted By", "Expires"}, rows)
}

func buildingPath(buildingID string) string {
	return "/api/v1/buildings/" + url.PathEscape(buildingID)
}
