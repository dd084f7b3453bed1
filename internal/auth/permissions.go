package auth

import (
	"sort"
	"strings"
)

// Permission is a fine-grained capability in resource.action form. Permissions
// are always derived from roles at actor construction time and never stored
// or embedded in tokens.
type Permission string

const (
	PermissionNoop Permission = "noop"

	PermissionOrgsCreate Permission = "orgs.create"
	PermissionOrgsEdit   Permission = "orgs.edit"
	PermissionOrgsDelete Permission = "orgs.delete"
	PermissionOrgsList   Permission = "orgs.list"
	PermissionOrgsView   Permission = "orgs.view"
	PermissionOrgsManage Permission = "orgs.manage"

	PermissionUsersCreate Permission = "users.create"
	PermissionUsersEdit   Permission = "users.edit"
	PermissionUsersDelete Permission = "users.delete"
	PermissionUsersList   Permission = "users.list"
	PermissionUsersView   Permission = "users.view"
	PermissionUsersManage Permission = "users.manage"

	PermissionOrgMembersCreate Permission = "org_members.create"
	PermissionOrgMembersEdit   Permission = "org_members.edit"
	PermissionOrgMembersDelete Permission = "org_members.delete"
	PermissionOrgMembersList   Permission = "org_members.list"
	PermissionOrgMembersView   Permission = "org_members.view"

	PermissionAppsCreate Permission = "apps.create"
	PermissionAppsEdit   Permission = "apps.edit"
	PermissionAppsDelete Permission = "apps.delete"
	PermissionAppsList   Permission = "apps.list"
	PermissionAppsView   Permission = "apps.view"

	PermissionOrgAppsCreate Permission = "org_apps.create"
	PermissionOrgAppsDelete Permission = "org_apps.delete"
	PermissionOrgAppsList   Permission = "org_apps.list"

	PermissionBucketsCreate Permission = "buckets.create"
	PermissionBucketsEdit   Permission = "buckets.edit"
	PermissionBucketsDelete Permission = "buckets.delete"
	PermissionBucketsList   Permission = "buckets.list"
	PermissionBucketsView   Permission = "buckets.view"
	PermissionBucketsManage Permission = "buckets.manage"

	PermissionDirsCreate Permission = "dirs.create"
	PermissionDirsEdit   Permission = "dirs.edit"
	PermissionDirsDelete Permission = "dirs.delete"
	PermissionDirsList   Permission = "dirs.list"
	PermissionDirsView   Permission = "dirs.view"
	PermissionDirsManage Permission = "dirs.manage"

	PermissionFilesCreate Permission = "files.create"
	PermissionFilesEdit   Permission = "files.edit"
	PermissionFilesDelete Permission = "files.delete"
	PermissionFilesList   Permission = "files.list"
	PermissionFilesView   Permission = "files.view"
	PermissionFilesManage Permission = "files.manage"
)

var knownPermissions = map[Permission]struct{}{
	PermissionNoop:             {},
	PermissionOrgsCreate:       {},
	PermissionOrgsEdit:         {},
	PermissionOrgsDelete:       {},
	PermissionOrgsList:         {},
	PermissionOrgsView:         {},
	PermissionOrgsManage:       {},
	PermissionUsersCreate:      {},
	PermissionUsersEdit:        {},
	PermissionUsersDelete:      {},
	PermissionUsersList:        {},
	PermissionUsersView:        {},
	PermissionUsersManage:      {},
	PermissionOrgMembersCreate: {},
	PermissionOrgMembersEdit:   {},
	PermissionOrgMembersDelete: {},
	PermissionOrgMembersList:   {},
	PermissionOrgMembersView:   {},
	PermissionAppsCreate:       {},
	PermissionAppsEdit:         {},
	PermissionAppsDelete:       {},
	PermissionAppsList:         {},
	PermissionAppsView:         {},
	PermissionOrgAppsCreate:    {},
	PermissionOrgAppsDelete:    {},
	PermissionOrgAppsList:      {},
	PermissionBucketsCreate:    {},
	PermissionBucketsEdit:      {},
	PermissionBucketsDelete:    {},
	PermissionBucketsList:      {},
	PermissionBucketsView:      {},
	PermissionBucketsManage:    {},
	PermissionDirsCreate:       {},
	PermissionDirsEdit:         {},
	PermissionDirsDelete:       {},
	PermissionDirsList:         {},
	PermissionDirsView:         {},
	PermissionDirsManage:       {},
	PermissionFilesCreate:      {},
	PermissionFilesEdit:        {},
	PermissionFilesDelete:      {},
	PermissionFilesList:        {},
	PermissionFilesView:        {},
	PermissionFilesManage:      {},
}

// Valid reports whether p is a member of the closed permission set.
func (p Permission) Valid() bool {
	_, ok := knownPermissions[p]
	return ok
}

// InvalidPermissionsError lists every unrecognized token found while decoding
// a permissions string.
type InvalidPermissionsError struct {
	Tokens []string
}

func (e *InvalidPermissionsError) Error() string {
	return "auth: invalid permissions: " + strings.Join(e.Tokens, ", ")
}

// ParsePermissions decodes a comma-joined permissions string, enumerating all
// unknown tokens on failure.
func ParsePermissions(s string) ([]Permission, error) {
	parts := strings.Split(s, ",")
	perms := make([]Permission, 0, len(parts))
	var bad []string
	for _, p := range parts {
		perm := Permission(p)
		if !perm.Valid() {
			bad = append(bad, p)
			continue
		}
		perms = append(perms, perm)
	}
	if len(bad) > 0 {
		return nil, &InvalidPermissionsError{Tokens: bad}
	}
	return perms, nil
}

// rolePermissions is the static policy table. Superusers administer the
// platform (orgs, users, clients) but do not touch file contents; org admins
// run everything inside their own organization.
var rolePermissions = map[Role][]Permission{
	RoleSuperuser: {
		PermissionOrgsCreate, PermissionOrgsEdit, PermissionOrgsDelete,
		PermissionOrgsList, PermissionOrgsView, PermissionOrgsManage,
		PermissionUsersCreate, PermissionUsersEdit, PermissionUsersDelete,
		PermissionUsersList, PermissionUsersView, PermissionUsersManage,
		PermissionOrgMembersCreate, PermissionOrgMembersEdit, PermissionOrgMembersDelete,
		PermissionOrgMembersList, PermissionOrgMembersView,
		PermissionAppsCreate, PermissionAppsEdit, PermissionAppsDelete,
		PermissionAppsList, PermissionAppsView,
		PermissionOrgAppsCreate, PermissionOrgAppsDelete, PermissionOrgAppsList,
		PermissionBucketsCreate, PermissionBucketsEdit, PermissionBucketsDelete,
		PermissionBucketsList, PermissionBucketsView, PermissionBucketsManage,
		PermissionDirsList, PermissionDirsView,
		PermissionFilesList, PermissionFilesView,
	},
	RoleOrgAdmin: {
		PermissionOrgsList, PermissionOrgsView, PermissionOrgsEdit,
		PermissionUsersCreate, PermissionUsersEdit, PermissionUsersDelete,
		PermissionUsersList, PermissionUsersView,
		PermissionOrgMembersCreate, PermissionOrgMembersEdit, PermissionOrgMembersDelete,
		PermissionOrgMembersList, PermissionOrgMembersView,
		PermissionAppsList, PermissionAppsView,
		PermissionOrgAppsCreate, PermissionOrgAppsDelete, PermissionOrgAppsList,
		PermissionBucketsCreate, PermissionBucketsEdit, PermissionBucketsDelete,
		PermissionBucketsList, PermissionBucketsView, PermissionBucketsManage,
		PermissionDirsCreate, PermissionDirsEdit, PermissionDirsDelete,
		PermissionDirsList, PermissionDirsView, PermissionDirsManage,
		PermissionFilesCreate, PermissionFilesEdit, PermissionFilesDelete,
		PermissionFilesList, PermissionFilesView, PermissionFilesManage,
	},
	RoleOrgEditor: {
		PermissionOrgsList, PermissionOrgsView,
		PermissionBucketsList, PermissionBucketsView,
		PermissionDirsList, PermissionDirsView,
		PermissionFilesCreate, PermissionFilesList, PermissionFilesView,
	},
	RoleOrgViewer: {
		PermissionOrgsList, PermissionOrgsView,
		PermissionBucketsList, PermissionBucketsView,
		PermissionDirsList, PermissionDirsView,
		PermissionFilesList, PermissionFilesView,
	},
}

// PermissionsForRoles returns the union of the permissions granted by each
// role. Pure and monotonic: adding a role never removes a permission granted
// by another. The result is sorted for stable presentation.
func PermissionsForRoles(roles []Role) []Permission {
	set := make(map[Permission]struct{})
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			set[p] = struct{}{}
		}
	}
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
