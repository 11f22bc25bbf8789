package schema

// Read view keys invalidated after operations are applied.
const (
	ViewClients            = "clients"
	ViewClient             = "client"
	ViewInterventions      = "interventions"
	ViewInterventionsByDay = "interventions/date"
	ViewTechnicalFiles     = "technicalFiles"
)

// ClientView returns the key of a single client's read view.
func ClientView(clientID string) string {
	return ViewClient + "/" + clientID
}

// InterventionsView returns the key of a client's intervention list.
func InterventionsView(clientID string) string {
	return ViewInterventions + "/" + clientID
}

// InvalidationKeys returns the read views made stale by applying p.
func InvalidationKeys(p Payload) []string {
	switch p := p.(type) {
	case *ClientPayload:
		return []string{ViewClients, ClientView(p.ID)}
	case *AddInterventionPayload:
		return []string{InterventionsView(p.ClientID), ViewInterventionsByDay}
	case *UpdateInterventionPayload:
		return []string{InterventionsView(p.ClientID), ViewInterventionsByDay}
	case *DeleteInterventionPayload:
		return []string{InterventionsView(p.ClientID), ViewInterventionsByDay}
	case *MarkBlacklistedPayload:
		return []string{ViewClients, ClientView(p.ClientID)}
	case *UnmarkBlacklistedPayload:
		return []string{ViewClients, ClientView(p.ClientID)}
	case *UploadFilePayload, *MoveFilePayload, *RenameFolderPayload, *CreateFolderPayload:
		return []string{ViewTechnicalFiles}
	default:
		return nil
	}
}
