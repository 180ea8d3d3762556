package permissions

import "sort"

// Template names offered as grant presets.
const (
	TemplateIssueManager          = "issue_manager"
	TemplateTenantManager         = "tenant_manager"
	TemplateCommunicationsManager = "communications_manager"
	TemplateBuildingManager       = "building_manager"
	TemplateAssociationAdmin      = "association_admin"
	TemplateFullAdmin             = "full_admin"
)

var templates = map[string][]Permission{
	TemplateIssueManager:          {ViewAllIssues, ManageIssues},
	TemplateTenantManager:         {ViewAllTenants, ManageTenants},
	TemplateCommunicationsManager: {ViewAllCommunications, ManageCommunications},
	TemplateBuildingManager: {
		ViewAllIssues, ManageIssues, ViewAllTenants, ManageTenants,
		ManageUnits, ManageBuilding, ManageDocuments,
	},
	TemplateAssociationAdmin: {
		ViewAllIssues, ViewAllTenants, ViewAllCommunications,
		ManageCommunications, ManagePetitions, ManageMeetings, ManageDocuments,
	},
}

// Template returns the permissions bundled under name. The returned slice is
// a copy.
func Template(name string) ([]Permission, bool) {
	if name == TemplateFullAdmin {
		return All(), true
	}
	ps, ok := templates[name]
	if !ok {
		return nil, false
	}
	out := make([]Permission, len(ps))
	copy(out, ps)
	return out, true
}

// Templates returns every template keyed by name.
func Templates() map[string][]Permission {
	out := make(map[string][]Permission, len(templates)+1)
	for _, name := range TemplateNames() {
		out[name], _ = Template(name)
	}
	return out
}

// TemplateNames returns template names in lexical order.
func TemplateNames() []string {
	names := make([]string, 0, len(templates)+1)
	for name := range templates {
		names = append(names, name)
	}
	names = append(names, TemplateFullAdmin)
	sort.Strings(names)
	return names
}
